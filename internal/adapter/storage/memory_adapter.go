package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/port"
)

// MemoryAdapter is an in-process store for local runs and tests. A single
// write lock is held for the whole of WithTx, and a snapshot taken on entry
// is put back when fn fails.
type MemoryAdapter struct {
	mu            sync.RWMutex
	medicines     map[string]domain.Medicine
	prescriptions map[string]domain.Prescription
	payments      map[string]domain.Payment
	sequences     map[string]int
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

// errValueOutOfRange matches what MySQL reports for values beyond an INT column.
var errValueOutOfRange = domain.ValidationError("Value out of range")

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		medicines:     make(map[string]domain.Medicine),
		prescriptions: make(map[string]domain.Prescription),
		payments:      make(map[string]domain.Payment),
		sequences:     make(map[string]int),
	}
}

func (m *MemoryAdapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.clone()
	if err := fn(ctx, &memoryTx{store: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *MemoryAdapter) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Medicine, 0, len(m.medicines))
	for _, med := range m.medicines {
		if !med.IsDeleted() {
			out = append(out, med)
		}
	}
	slices.SortFunc(out, func(a, b domain.Medicine) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryAdapter) GetMedicine(ctx context.Context, id string) (*domain.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	med, ok := m.medicines[id]
	if !ok || med.IsDeleted() {
		return nil, nil
	}
	return &med, nil
}

func (m *MemoryAdapter) ListPrescriptions(ctx context.Context, filter port.PrescriptionFilter) ([]domain.Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Prescription, 0, len(m.prescriptions))
	for _, p := range m.prescriptions {
		if p.DeletedAt != nil {
			continue
		}
		if filter.PatientID != "" && p.PatientID != filter.PatientID {
			continue
		}
		out = append(out, copyPrescription(p))
	}
	slices.SortFunc(out, func(a, b domain.Prescription) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *MemoryAdapter) GetPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.prescriptions[id]
	if !ok || p.DeletedAt != nil {
		return nil, nil
	}
	cp := copyPrescription(p)
	return &cp, nil
}

// Payments returns every recorded payment.
func (m *MemoryAdapter) Payments() []domain.Payment {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Payment, 0, len(m.payments))
	for _, pay := range m.payments {
		out = append(out, pay)
	}
	return out
}

type memorySnapshot struct {
	medicines     map[string]domain.Medicine
	prescriptions map[string]domain.Prescription
	payments      map[string]domain.Payment
	sequences     map[string]int
}

func (m *MemoryAdapter) clone() memorySnapshot {
	s := memorySnapshot{
		medicines:     make(map[string]domain.Medicine, len(m.medicines)),
		prescriptions: make(map[string]domain.Prescription, len(m.prescriptions)),
		payments:      make(map[string]domain.Payment, len(m.payments)),
		sequences:     make(map[string]int, len(m.sequences)),
	}
	for k, v := range m.medicines {
		s.medicines[k] = v
	}
	for k, v := range m.prescriptions {
		s.prescriptions[k] = copyPrescription(v)
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	for k, v := range m.sequences {
		s.sequences[k] = v
	}
	return s
}

func (m *MemoryAdapter) restore(s memorySnapshot) {
	m.medicines = s.medicines
	m.prescriptions = s.prescriptions
	m.payments = s.payments
	m.sequences = s.sequences
}

func copyPrescription(p domain.Prescription) domain.Prescription {
	p.Lines = slices.Clone(p.Lines)
	return p
}

// memoryTx runs with the store's write lock already held.
type memoryTx struct {
	store *MemoryAdapter
}

func (t *memoryTx) NextID(ctx context.Context, seq domain.Sequence) (string, error) {
	highest := t.store.sequences[seq.Name]

	var ids []string
	switch seq.Name {
	case domain.MedicineSequence.Name:
		for id := range t.store.medicines {
			ids = append(ids, id)
		}
	case domain.PrescriptionSequence.Name:
		for id := range t.store.prescriptions {
			ids = append(ids, id)
		}
	default:
		return "", fmt.Errorf("unknown sequence %q", seq.Name)
	}

	for _, id := range ids {
		if n, ok := seq.Parse(id); ok && n > highest {
			highest = n
		}
	}
	t.store.sequences[seq.Name] = highest + 1
	return seq.Next(highest), nil
}

func (t *memoryTx) MedicineNameTaken(ctx context.Context, name string) (bool, error) {
	for _, med := range t.store.medicines {
		if !med.IsDeleted() && med.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertMedicine(ctx context.Context, med domain.Medicine) error {
	if _, ok := t.store.medicines[med.ID]; ok {
		return domain.ConflictError("Resource already exists")
	}
	if med.Stock > domain.MaxQuantity || med.Price > domain.MaxQuantity {
		return errValueOutOfRange
	}
	t.store.medicines[med.ID] = med
	return nil
}

func (t *memoryTx) LockMedicines(ctx context.Context, ids []string) (map[string]*domain.Medicine, error) {
	out := make(map[string]*domain.Medicine, len(ids))
	for _, id := range ids {
		if med, ok := t.store.medicines[id]; ok {
			out[id] = &med
		}
	}
	return out, nil
}

func (t *memoryTx) AdjustStock(ctx context.Context, id string, delta int) error {
	med, ok := t.store.medicines[id]
	if !ok || med.Stock+delta < 0 {
		return fmt.Errorf("adjust stock %s by %d: %w", id, delta, domain.ErrInsufficientStock)
	}
	if delta > domain.MaxQuantity-med.Stock {
		return errValueOutOfRange
	}
	med.Stock += delta
	t.store.medicines[id] = med
	return nil
}

func (t *memoryTx) SoftDeleteMedicine(ctx context.Context, id string, at time.Time) error {
	med, ok := t.store.medicines[id]
	if !ok || med.IsDeleted() {
		return ErrOptimisticLock
	}
	med.DeletedAt = &at
	t.store.medicines[id] = med
	return nil
}

func (t *memoryTx) LockPrescription(ctx context.Context, id string) (*domain.Prescription, error) {
	p, ok := t.store.prescriptions[id]
	if !ok || p.DeletedAt != nil {
		return nil, nil
	}
	cp := copyPrescription(p)
	slices.SortFunc(cp.Lines, func(a, b domain.LineItem) int { return strings.Compare(a.MedicineID, b.MedicineID) })
	return &cp, nil
}

func (t *memoryTx) InsertPrescription(ctx context.Context, p domain.Prescription) error {
	if _, ok := t.store.prescriptions[p.ID]; ok {
		return domain.ConflictError("Resource already exists")
	}
	t.store.prescriptions[p.ID] = copyPrescription(p)
	return nil
}

func (t *memoryTx) ReplaceLineItems(ctx context.Context, p domain.Prescription) error {
	stored, ok := t.store.prescriptions[p.ID]
	if !ok {
		return fmt.Errorf("replace line items: prescription %s not stored", p.ID)
	}
	stored.Lines = slices.Clone(p.Lines)
	stored.TotalPrice = p.TotalPrice
	t.store.prescriptions[p.ID] = stored
	return nil
}

func (t *memoryTx) SavePrescription(ctx context.Context, p domain.Prescription) error {
	stored, ok := t.store.prescriptions[p.ID]
	if !ok {
		return fmt.Errorf("save prescription: %s not stored", p.ID)
	}
	stored.Status = p.Status
	stored.TotalPrice = p.TotalPrice
	stored.DeletedAt = p.DeletedAt

	fulfilled := make(map[string]int, len(p.Lines))
	for _, l := range p.Lines {
		fulfilled[l.ID] = l.FulfilledQty
	}
	for i := range stored.Lines {
		if qty, ok := fulfilled[stored.Lines[i].ID]; ok {
			stored.Lines[i].FulfilledQty = qty
		}
	}
	t.store.prescriptions[p.ID] = stored
	return nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, pay domain.Payment) error {
	if _, ok := t.store.payments[pay.PrescriptionID]; ok {
		return domain.ConflictError("Prescription has already been paid")
	}
	t.store.payments[pay.PrescriptionID] = pay
	return nil
}
