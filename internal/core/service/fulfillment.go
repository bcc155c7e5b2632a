package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/port"
)

type ProcessResult struct {
	PrescriptionID string                    `json:"prescription_id"`
	Status         domain.PrescriptionStatus `json:"status"`
	Medicines      []domain.Allocation       `json:"medicines"`
}

// Process dispenses as much of the outstanding need as current stock allows.
// Partial fulfilment is a success and leaves the prescription ON PROCESS;
// calling again without a stock change is a no-op.
func (s *PrescriptionService) Process(ctx context.Context, caller domain.Principal, id string) (_ ProcessResult, err error) {
	ctx, span := startSpan(ctx, "prescription.process", caller, attribute.String("prescription.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePharmacist); err != nil {
		return ProcessResult{}, err
	}
	if !domain.PrescriptionSequence.Valid(id) {
		return ProcessResult{}, domain.ValidationError("Invalid prescription ID format")
	}

	var (
		result     ProcessResult
		dispensed  int
		fromStatus domain.PrescriptionStatus
	)
	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		p, err := tx.LockPrescription(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.NotFoundError("Prescription not found")
		}
		fromStatus = p.Status
		if err := p.CanBeProcessed(); err != nil {
			return err
		}

		meds, err := tx.LockMedicines(ctx, p.MedicineIDs())
		if err != nil {
			return err
		}
		stock := make(map[string]int, len(meds))
		for medID, med := range meds {
			stock[medID] = med.Stock
		}

		allocations, err := p.Fulfill(stock)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			if a.Allocated == 0 {
				continue
			}
			if err := tx.AdjustStock(ctx, a.MedicineID, -a.Allocated); err != nil {
				return fmt.Errorf("dispense %s: %w", a.MedicineID, err)
			}
			dispensed += a.Allocated
		}

		if err := tx.SavePrescription(ctx, *p); err != nil {
			return err
		}

		result = ProcessResult{PrescriptionID: p.ID, Status: p.Status, Medicines: allocations}
		return nil
	})
	if err != nil {
		return ProcessResult{}, err
	}

	s.recorder.PrescriptionProcessed(string(result.Status))
	if dispensed > 0 {
		s.recorder.StockAdjusted("dispense", -dispensed)
	}
	s.logger.Info("prescription processed",
		zap.String("prescription_id", result.PrescriptionID),
		zap.String("from", string(fromStatus)),
		zap.String("to", string(result.Status)),
		zap.Int("units_dispensed", dispensed),
	)
	return result, nil
}
