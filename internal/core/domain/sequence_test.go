package domain

import "testing"

func TestSequence_Format(t *testing.T) {
	if got := MedicineSequence.Format(1); got != "MED-0001" {
		t.Errorf("expected MED-0001, got %s", got)
	}
	if got := PrescriptionSequence.Format(42); got != "PRES-00042" {
		t.Errorf("expected PRES-00042, got %s", got)
	}
}

func TestSequence_Parse(t *testing.T) {
	cases := []struct {
		id   string
		n    int
		ok   bool
	}{
		{"MED-0007", 7, true},
		{"MED-12345", 12345, true},
		{"MED-", 0, false},
		{"MED-00a1", 0, false},
		{"PRES-00001", 0, false},
		{"med-0001", 0, false},
	}

	for _, c := range cases {
		n, ok := MedicineSequence.Parse(c.id)
		if ok != c.ok || n != c.n {
			t.Errorf("Parse(%q): expected (%d, %v), got (%d, %v)", c.id, c.n, c.ok, n, ok)
		}
	}
}

func TestSequence_Next(t *testing.T) {
	if got := MedicineSequence.Next(0); got != "MED-0001" {
		t.Errorf("expected MED-0001 on empty ledger, got %s", got)
	}
	if got := PrescriptionSequence.Next(9); got != "PRES-00010" {
		t.Errorf("expected PRES-00010, got %s", got)
	}
}
