package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PrescriptionStatus string

const (
	StatusCreated   PrescriptionStatus = "CREATED"
	StatusOnProcess PrescriptionStatus = "ON PROCESS"
	StatusFinished  PrescriptionStatus = "FINISHED"
	StatusCancelled PrescriptionStatus = "CANCELLED"
	StatusPaid      PrescriptionStatus = "PAID"
)

var validTransitions = map[PrescriptionStatus][]PrescriptionStatus{
	StatusCreated:   {StatusOnProcess, StatusFinished, StatusCancelled},
	StatusOnProcess: {StatusOnProcess, StatusFinished, StatusCancelled},
	StatusFinished:  {StatusPaid},
	StatusPaid:      {},
	StatusCancelled: {},
}

func (s PrescriptionStatus) CanTransitionTo(to PrescriptionStatus) bool {
	return slices.Contains(validTransitions[s], to)
}

// LineItem records how much of one medicine a prescription needs and how
// much has been handed out so far.
type LineItem struct {
	ID             string `json:"id"`
	PrescriptionID string `json:"-"`
	MedicineID     string `json:"medicine_id"`
	MedicineName   string `json:"name"`
	NeededQty      int    `json:"needed_qty"`
	FulfilledQty   int    `json:"fulfilled_qty"`
}

func (l LineItem) Outstanding() int {
	return l.NeededQty - l.FulfilledQty
}

type Prescription struct {
	ID         string             `json:"id"`
	PatientID  string             `json:"patient_id"`
	Status     PrescriptionStatus `json:"status"`
	TotalPrice int                `json:"total_price"`
	CreatedAt  time.Time          `json:"created_at"`
	DeletedAt  *time.Time         `json:"-"`
	Lines      []LineItem         `json:"medicines"`
}

// MedicineRequest is one entry of the medicine list sent by a doctor.
type MedicineRequest struct {
	MedicineID string `json:"id"`
	NeededQty  int    `json:"needed_qty"`
}

// MergeMedicineRequests validates the requested medicines and folds
// repeated medicine IDs into a single entry, keeping first-seen order.
func MergeMedicineRequests(reqs []MedicineRequest) ([]MedicineRequest, error) {
	if len(reqs) == 0 {
		return nil, ValidationError("Missing required fields")
	}

	merged := make([]MedicineRequest, 0, len(reqs))
	index := make(map[string]int, len(reqs))
	for _, r := range reqs {
		id := strings.TrimSpace(r.MedicineID)
		if id == "" || r.NeededQty <= 0 || r.NeededQty > MaxQuantity {
			return nil, ValidationError("Invalid medicine data")
		}
		if i, ok := index[id]; ok {
			if r.NeededQty > MaxQuantity-merged[i].NeededQty {
				return nil, ValidationError("Invalid medicine data")
			}
			merged[i].NeededQty += r.NeededQty
			continue
		}
		index[id] = len(merged)
		merged = append(merged, MedicineRequest{MedicineID: id, NeededQty: r.NeededQty})
	}
	return merged, nil
}

// BuildLineItems turns merged requests into fresh line items and the total
// price they add up to. Every requested medicine must be present in meds and
// not soft-deleted.
func BuildLineItems(prescriptionID string, reqs []MedicineRequest, meds map[string]*Medicine) ([]LineItem, int, error) {
	lines := make([]LineItem, 0, len(reqs))
	total := 0
	for _, r := range reqs {
		m, ok := meds[r.MedicineID]
		if !ok || m == nil || m.IsDeleted() {
			return nil, 0, NotFoundError(fmt.Sprintf("Medicine %s not found", r.MedicineID))
		}
		if r.NeededQty <= 0 || r.NeededQty > MaxQuantity {
			return nil, 0, ValidationError("Invalid medicine data")
		}
		if m.Price > 0 && r.NeededQty > (MaxQuantity-total)/m.Price {
			return nil, 0, ValidationError(fmt.Sprintf("Total price cannot exceed %d", MaxQuantity))
		}
		lines = append(lines, LineItem{
			ID:             uuid.NewString(),
			PrescriptionID: prescriptionID,
			MedicineID:     m.ID,
			MedicineName:   m.Name,
			NeededQty:      r.NeededQty,
		})
		total += r.NeededQty * m.Price
	}
	return lines, total, nil
}

func NewPrescription(id, patientID string, lines []LineItem, total int, now time.Time) Prescription {
	return Prescription{
		ID:         id,
		PatientID:  patientID,
		Status:     StatusCreated,
		TotalPrice: total,
		CreatedAt:  now,
		Lines:      lines,
	}
}

// ValidatePatientID checks the opaque patient reference issued by the auth
// service.
func ValidatePatientID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ValidationError("Missing required fields")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", ValidationError("Invalid patient ID format")
	}
	return parsed.String(), nil
}

func (p *Prescription) MedicineIDs() []string {
	ids := make([]string, 0, len(p.Lines))
	for _, l := range p.Lines {
		ids = append(ids, l.MedicineID)
	}
	return ids
}

func (p *Prescription) IsFullyFulfilled() bool {
	for _, l := range p.Lines {
		if l.FulfilledQty < l.NeededQty {
			return false
		}
	}
	return true
}

func (p *Prescription) CanBeUpdated() error {
	if p.Status != StatusCreated {
		return NotFoundError("Invalid prescription status to update")
	}
	return nil
}

// ReplaceLines swaps the whole medicine list and resets the price snapshot.
func (p *Prescription) ReplaceLines(lines []LineItem, total int) error {
	if err := p.CanBeUpdated(); err != nil {
		return err
	}
	p.Lines = lines
	p.TotalPrice = total
	return nil
}

// StockMovement is a quantity of one medicine going back to the shelf.
type StockMovement struct {
	MedicineID string
	Quantity   int
}

// Cancel soft-deletes the prescription. Anything already handed out is
// reset to zero and returned as movements the caller must credit back.
func (p *Prescription) Cancel(now time.Time) ([]StockMovement, error) {
	if !p.Status.CanTransitionTo(StatusCancelled) {
		return nil, ConflictError(fmt.Sprintf("Prescription %s cannot be deleted as it is already finished.", p.ID))
	}

	var restores []StockMovement
	if p.Status == StatusOnProcess {
		for i := range p.Lines {
			if p.Lines[i].FulfilledQty > 0 {
				restores = append(restores, StockMovement{
					MedicineID: p.Lines[i].MedicineID,
					Quantity:   p.Lines[i].FulfilledQty,
				})
			}
			p.Lines[i].FulfilledQty = 0
		}
	}

	p.Status = StatusCancelled
	p.DeletedAt = &now
	return restores, nil
}

func (p *Prescription) CanBePaidBy(payerID string) error {
	if p.PatientID != payerID {
		return ForbiddenError("Cannot pays prescription that not yours")
	}
	switch p.Status {
	case StatusFinished:
		return nil
	case StatusPaid:
		return ConflictError("Prescription has already been paid")
	default:
		return ConflictError("Cannot pays prescription that are not finished yet")
	}
}

func (p *Prescription) MarkPaid() error {
	if !p.Status.CanTransitionTo(StatusPaid) {
		return ConflictError("Cannot pays prescription that are not finished yet")
	}
	p.Status = StatusPaid
	return nil
}

// VisibleTo reports whether the caller may see this prescription. Patients
// only see their own.
func (p *Prescription) VisibleTo(caller Principal) bool {
	return caller.Role != RolePatient || p.PatientID == caller.UserID
}
