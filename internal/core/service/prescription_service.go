package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/port"
)

const defaultPayLockTTL = 30 * time.Second

type PrescriptionDeps struct {
	DB         port.DatabaseRepository
	Cache      port.CacheRepository
	Wallet     port.WalletService
	Logger     *zap.Logger
	Recorder   Recorder
	PayLockTTL time.Duration
}

// PrescriptionService drives a prescription through its lifecycle. Every
// mutation runs in a single store transaction; locks are always taken in
// the order sequence, prescription, medicines.
type PrescriptionService struct {
	db         port.DatabaseRepository
	cache      port.CacheRepository
	wallet     port.WalletService
	logger     *zap.Logger
	recorder   Recorder
	payLockTTL time.Duration
	now        func() time.Time
}

func NewPrescriptionService(deps PrescriptionDeps) *PrescriptionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.PayLockTTL <= 0 {
		deps.PayLockTTL = defaultPayLockTTL
	}
	return &PrescriptionService{
		db:         deps.DB,
		cache:      deps.Cache,
		wallet:     deps.Wallet,
		logger:     deps.Logger.Named("prescription"),
		recorder:   orNop(deps.Recorder),
		payLockTTL: deps.PayLockTTL,
		now:        time.Now,
	}
}

// PrescriptionInput is what a doctor submits on create and update.
type PrescriptionInput struct {
	PatientID string                   `json:"patientId"`
	Medicines []domain.MedicineRequest `json:"medicines"`
}

func (s *PrescriptionService) List(ctx context.Context, caller domain.Principal) (_ []domain.Prescription, err error) {
	ctx, span := startSpan(ctx, "prescription.list", caller)
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist, domain.RoleDoctor, domain.RolePatient); err != nil {
		return nil, err
	}

	var filter port.PrescriptionFilter
	if caller.Role == domain.RolePatient {
		filter.PatientID = caller.UserID
	}

	list, err := s.db.ListPrescriptions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list prescriptions: %w", err)
	}
	if list == nil {
		list = []domain.Prescription{}
	}
	return list, nil
}

func (s *PrescriptionService) Get(ctx context.Context, caller domain.Principal, id string) (_ *domain.Prescription, err error) {
	ctx, span := startSpan(ctx, "prescription.get", caller, attribute.String("prescription.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist, domain.RoleDoctor, domain.RolePatient); err != nil {
		return nil, err
	}
	if !domain.PrescriptionSequence.Valid(id) {
		return nil, domain.ValidationError("Invalid prescription ID format")
	}

	p, err := s.db.GetPrescription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get prescription: %w", err)
	}
	// Another patient's prescription is reported as missing.
	if p == nil || !p.VisibleTo(caller) {
		return nil, domain.NotFoundError("Prescription not found")
	}
	return p, nil
}

func (s *PrescriptionService) Create(ctx context.Context, caller domain.Principal, in PrescriptionInput) (_ domain.Prescription, err error) {
	ctx, span := startSpan(ctx, "prescription.create", caller)
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RoleDoctor); err != nil {
		return domain.Prescription{}, err
	}
	if in.PatientID == "" || len(in.Medicines) == 0 {
		return domain.Prescription{}, domain.ValidationError("Missing required fields")
	}
	patientID, err := domain.ValidatePatientID(in.PatientID)
	if err != nil {
		return domain.Prescription{}, err
	}
	reqs, err := domain.MergeMedicineRequests(in.Medicines)
	if err != nil {
		return domain.Prescription{}, err
	}

	var p domain.Prescription
	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		id, err := tx.NextID(ctx, domain.PrescriptionSequence)
		if err != nil {
			return fmt.Errorf("allocate prescription id: %w", err)
		}

		meds, err := tx.LockMedicines(ctx, requestedIDs(reqs))
		if err != nil {
			return err
		}
		lines, total, err := domain.BuildLineItems(id, reqs, meds)
		if err != nil {
			return err
		}

		p = domain.NewPrescription(id, patientID, lines, total, s.now())
		return tx.InsertPrescription(ctx, p)
	})
	if err != nil {
		return domain.Prescription{}, err
	}

	s.recorder.PrescriptionCreated()
	s.logger.Info("prescription created",
		zap.String("prescription_id", p.ID),
		zap.String("patient_id", p.PatientID),
		zap.Int("lines", len(p.Lines)),
		zap.Int("total_price", p.TotalPrice),
	)
	return p, nil
}

// Update replaces the medicine list of a prescription that has not been
// touched by a pharmacist yet.
func (s *PrescriptionService) Update(ctx context.Context, caller domain.Principal, id string, in PrescriptionInput) (_ domain.Prescription, err error) {
	ctx, span := startSpan(ctx, "prescription.update", caller, attribute.String("prescription.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RoleDoctor); err != nil {
		return domain.Prescription{}, err
	}
	patientID, err := domain.ValidatePatientID(in.PatientID)
	if err != nil {
		return domain.Prescription{}, err
	}

	var updated domain.Prescription
	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		p, err := tx.LockPrescription(ctx, id)
		if err != nil {
			return err
		}
		if p == nil || p.PatientID != patientID {
			return domain.NotFoundError("Prescription not found")
		}
		if err := p.CanBeUpdated(); err != nil {
			return err
		}

		reqs, err := domain.MergeMedicineRequests(in.Medicines)
		if err != nil {
			return err
		}
		meds, err := tx.LockMedicines(ctx, requestedIDs(reqs))
		if err != nil {
			return err
		}
		lines, total, err := domain.BuildLineItems(p.ID, reqs, meds)
		if err != nil {
			return err
		}
		if err := p.ReplaceLines(lines, total); err != nil {
			return err
		}
		if err := tx.ReplaceLineItems(ctx, *p); err != nil {
			return err
		}

		updated = *p
		return nil
	})
	if err != nil {
		return domain.Prescription{}, err
	}

	s.logger.Info("prescription updated",
		zap.String("prescription_id", updated.ID),
		zap.Int("lines", len(updated.Lines)),
		zap.Int("total_price", updated.TotalPrice),
	)
	return updated, nil
}

// Cancel soft-deletes a prescription and puts anything already dispensed
// back on the shelf.
func (s *PrescriptionService) Cancel(ctx context.Context, caller domain.Principal, id string) (err error) {
	ctx, span := startSpan(ctx, "prescription.cancel", caller, attribute.String("prescription.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RoleDoctor); err != nil {
		return err
	}

	var restored int
	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		p, err := tx.LockPrescription(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.NotFoundError("Prescription not found")
		}

		restores, err := p.Cancel(s.now())
		if err != nil {
			return err
		}

		if len(restores) > 0 {
			ids := make([]string, 0, len(restores))
			for _, r := range restores {
				ids = append(ids, r.MedicineID)
			}
			if _, err := tx.LockMedicines(ctx, ids); err != nil {
				return err
			}
		}
		for _, r := range restores {
			if err := tx.AdjustStock(ctx, r.MedicineID, r.Quantity); err != nil {
				return fmt.Errorf("restore stock of %s: %w", r.MedicineID, err)
			}
			restored += r.Quantity
		}

		return tx.SavePrescription(ctx, *p)
	})
	if err != nil {
		return err
	}

	s.recorder.PrescriptionCancelled()
	if restored > 0 {
		s.recorder.StockAdjusted("cancel", restored)
	}
	s.logger.Info("prescription cancelled",
		zap.String("prescription_id", id),
		zap.Int("units_restored", restored),
	)
	return nil
}

func requestedIDs(reqs []domain.MedicineRequest) []string {
	ids := make([]string, len(reqs))
	for i, r := range reqs {
		ids[i] = r.MedicineID
	}
	return ids
}
