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

// InventoryService owns medicine records and their stock.
type InventoryService struct {
	db       port.DatabaseRepository
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
}

func NewInventoryService(db port.DatabaseRepository, logger *zap.Logger, recorder Recorder) *InventoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryService{
		db:       db,
		logger:   logger.Named("inventory"),
		recorder: orNop(recorder),
		now:      time.Now,
	}
}

func (s *InventoryService) ListMedicines(ctx context.Context, caller domain.Principal) (_ []domain.Medicine, err error) {
	ctx, span := startSpan(ctx, "inventory.list", caller)
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist, domain.RoleDoctor); err != nil {
		return nil, err
	}

	meds, err := s.db.ListMedicines(ctx)
	if err != nil {
		return nil, fmt.Errorf("list medicines: %w", err)
	}
	if meds == nil {
		meds = []domain.Medicine{}
	}
	return meds, nil
}

func (s *InventoryService) GetMedicine(ctx context.Context, caller domain.Principal, id string) (_ *domain.Medicine, err error) {
	ctx, span := startSpan(ctx, "inventory.get", caller, attribute.String("medicine.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist, domain.RoleDoctor); err != nil {
		return nil, err
	}
	if !domain.MedicineSequence.Valid(id) {
		return nil, domain.ValidationError("Invalid medicine ID format")
	}

	med, err := s.db.GetMedicine(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get medicine: %w", err)
	}
	if med == nil {
		return nil, domain.NotFoundError("Medicine not found")
	}
	return med, nil
}

// CreateMedicine registers a new medicine under the next MED- identifier.
// Allocating the identifier first serializes concurrent creates, which also
// makes the name check race free.
func (s *InventoryService) CreateMedicine(ctx context.Context, caller domain.Principal, in domain.NewMedicine) (_ domain.Medicine, err error) {
	ctx, span := startSpan(ctx, "inventory.create", caller)
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist); err != nil {
		return domain.Medicine{}, err
	}
	if err := in.Validate(); err != nil {
		return domain.Medicine{}, err
	}

	var med domain.Medicine
	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		id, err := tx.NextID(ctx, domain.MedicineSequence)
		if err != nil {
			return fmt.Errorf("allocate medicine id: %w", err)
		}

		med = in.Build(id, s.now())
		taken, err := tx.MedicineNameTaken(ctx, med.Name)
		if err != nil {
			return err
		}
		if taken {
			return domain.ValidationError("Medicine name must be unique")
		}

		return tx.InsertMedicine(ctx, med)
	})
	if err != nil {
		return domain.Medicine{}, err
	}

	s.recorder.MedicineCreated()
	s.logger.Info("medicine created",
		zap.String("medicine_id", med.ID),
		zap.String("name", med.Name),
		zap.Int("stock", med.Stock),
	)
	return med, nil
}

// Restock adds qty units to an active medicine. A nil qty means the field
// was absent from the request.
func (s *InventoryService) Restock(ctx context.Context, caller domain.Principal, id string, qty *int) (_ domain.Medicine, err error) {
	ctx, span := startSpan(ctx, "inventory.restock", caller, attribute.String("medicine.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist); err != nil {
		return domain.Medicine{}, err
	}
	if id == "" || qty == nil {
		return domain.Medicine{}, domain.ValidationError("ID and stock are required")
	}
	if *qty < 0 {
		return domain.Medicine{}, domain.ValidationError("Stock cannot be negative")
	}

	var med domain.Medicine
	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		meds, err := tx.LockMedicines(ctx, []string{id})
		if err != nil {
			return err
		}
		locked, ok := meds[id]
		if !ok || locked.IsDeleted() {
			return domain.NotFoundError("Medicine not found")
		}

		if err := locked.Restore(*qty); err != nil {
			return err
		}
		if err := tx.AdjustStock(ctx, id, *qty); err != nil {
			return err
		}
		med = *locked
		return nil
	})
	if err != nil {
		return domain.Medicine{}, err
	}

	s.recorder.StockAdjusted("restock", *qty)
	s.logger.Info("medicine restocked",
		zap.String("medicine_id", med.ID),
		zap.Int("added", *qty),
		zap.Int("stock", med.Stock),
	)
	return med, nil
}

func (s *InventoryService) DeleteMedicine(ctx context.Context, caller domain.Principal, id string) (err error) {
	ctx, span := startSpan(ctx, "inventory.delete", caller, attribute.String("medicine.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist, domain.RoleDoctor); err != nil {
		return err
	}

	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		meds, err := tx.LockMedicines(ctx, []string{id})
		if err != nil {
			return err
		}
		if med, ok := meds[id]; !ok || med.IsDeleted() {
			return domain.NotFoundError("Medicine not found")
		}
		return tx.SoftDeleteMedicine(ctx, id, s.now())
	})
	if err != nil {
		return err
	}

	s.logger.Info("medicine deleted", zap.String("medicine_id", id), zap.String("by", caller.UserID))
	return nil
}
