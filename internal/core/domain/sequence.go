package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Sequence describes a human-readable sequential identifier space such as
// MED-0001 or PRES-00001.
type Sequence struct {
	Name   string
	Prefix string
	Width  int
}

var (
	MedicineSequence     = Sequence{Name: "medicine", Prefix: "MED-", Width: 4}
	PrescriptionSequence = Sequence{Name: "prescription", Prefix: "PRES-", Width: 5}
)

func (s Sequence) Format(n int) string {
	return fmt.Sprintf("%s%0*d", s.Prefix, s.Width, n)
}

// Parse returns the numeric suffix of id, or false when id does not belong
// to the sequence.
func (s Sequence) Parse(id string) (int, bool) {
	digits, ok := strings.CutPrefix(id, s.Prefix)
	if !ok || digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s Sequence) Valid(id string) bool {
	_, ok := s.Parse(id)
	return ok
}

// Next issues the identifier following the highest suffix seen so far.
func (s Sequence) Next(highest int) string {
	if highest < 0 {
		highest = 0
	}
	return s.Format(highest + 1)
}
