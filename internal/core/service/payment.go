package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/port"
)

const payLockPrefix = "pay-lock:"

// Pay charges the patient's wallet for a finished prescription and records
// the payment. Only one pay attempt per prescription runs at a time.
func (s *PrescriptionService) Pay(ctx context.Context, caller domain.Principal, id string) (_ domain.Payment, err error) {
	ctx, span := startSpan(ctx, "prescription.pay", caller, attribute.String("prescription.id", id))
	defer func() { endSpan(span, err) }()

	if err := caller.Require(domain.RolePatient); err != nil {
		return domain.Payment{}, err
	}
	if !domain.PrescriptionSequence.Valid(id) {
		return domain.Payment{}, domain.ValidationError("Invalid prescription ID format")
	}

	lockKey := payLockPrefix + id
	token, ok, err := s.cache.AcquireLock(ctx, lockKey, s.payLockTTL)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("acquire pay lock: %w", err)
	}
	if !ok {
		return domain.Payment{}, domain.ConflictError("Payment for this prescription is already in progress")
	}
	defer func() {
		if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.logger.Warn("release pay lock failed", zap.String("prescription_id", id), zap.Error(err))
		}
	}()

	var (
		payment   domain.Payment
		withdrawn bool
	)
	err = s.db.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		p, err := tx.LockPrescription(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return domain.NotFoundError("Prescription not found")
		}
		if err := p.CanBePaidBy(caller.UserID); err != nil {
			return err
		}
		if p.TotalPrice <= 0 || p.TotalPrice > domain.MaxQuantity {
			return domain.ValidationError("Invalid prescription total")
		}

		balance, err := s.wallet.Balance(ctx, caller.Token)
		if err != nil {
			return err
		}
		if balance < p.TotalPrice {
			return domain.ConflictError("Insufficient balance")
		}

		if err := s.wallet.Withdraw(ctx, caller.Token, p.TotalPrice); err != nil {
			return err
		}
		withdrawn = true

		payment = domain.NewPayment(p, caller.UserID, s.now())
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		if err := p.MarkPaid(); err != nil {
			return err
		}
		return tx.SavePrescription(ctx, *p)
	})
	if err != nil {
		if withdrawn {
			s.logger.Error("wallet charged but payment not recorded",
				zap.String("prescription_id", id),
				zap.String("patient_id", caller.UserID),
				zap.Int("amount", payment.TotalPrice),
				zap.Error(err),
			)
		}
		return domain.Payment{}, err
	}

	s.recorder.PaymentRecorded(payment.TotalPrice)
	s.logger.Info("payment recorded",
		zap.String("prescription_id", id),
		zap.String("payment_id", payment.ID),
		zap.Int("amount", payment.TotalPrice),
	)
	return payment, nil
}
