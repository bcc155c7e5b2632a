package port

import (
	"context"
	"time"

	"github.com/rl1809/pharmacy/internal/core/domain"
)

// PrescriptionFilter narrows a listing. An empty PatientID lists every
// active prescription.
type PrescriptionFilter struct {
	PatientID string
}

type DatabaseRepository interface {
	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListMedicines returns active medicines ordered by ID
	ListMedicines(ctx context.Context) ([]domain.Medicine, error)

	// GetMedicine returns an active medicine, or nil when there is none
	GetMedicine(ctx context.Context, id string) (*domain.Medicine, error)

	// ListPrescriptions returns active prescriptions with their line items
	ListPrescriptions(ctx context.Context, filter PrescriptionFilter) ([]domain.Prescription, error)

	// GetPrescription returns an active prescription, or nil when there is none
	GetPrescription(ctx context.Context, id string) (*domain.Prescription, error)
}

// Tx is the write side of the store. Every Lock* call holds its rows until
// the surrounding transaction ends.
type Tx interface {
	// NextID allocates the next identifier of seq. Concurrent callers are
	// serialized on the sequence's counter row.
	NextID(ctx context.Context, seq domain.Sequence) (string, error)

	MedicineNameTaken(ctx context.Context, name string) (bool, error)
	InsertMedicine(ctx context.Context, m domain.Medicine) error

	// LockMedicines locks the given medicines, soft-deleted ones included, in
	// ID order. Unknown IDs are absent from the result.
	LockMedicines(ctx context.Context, ids []string) (map[string]*domain.Medicine, error)

	// AdjustStock adds delta to a medicine's stock. It returns
	// domain.ErrInsufficientStock when the result would be negative.
	AdjustStock(ctx context.Context, id string, delta int) error

	SoftDeleteMedicine(ctx context.Context, id string, at time.Time) error

	// LockPrescription locks an active prescription and loads its line items.
	// It returns nil when the prescription is missing or soft-deleted.
	LockPrescription(ctx context.Context, id string) (*domain.Prescription, error)

	InsertPrescription(ctx context.Context, p domain.Prescription) error

	// ReplaceLineItems drops every line of p and writes p.Lines instead.
	ReplaceLineItems(ctx context.Context, p domain.Prescription) error

	// SavePrescription writes status, total price, soft-delete marker and the
	// fulfilled quantity of every line.
	SavePrescription(ctx context.Context, p domain.Prescription) error

	InsertPayment(ctx context.Context, pay domain.Payment) error
}
