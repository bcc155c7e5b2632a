package domain

import (
	"time"

	"github.com/google/uuid"
)

type Payment struct {
	ID             string    `json:"id"`
	PrescriptionID string    `json:"prescription_id"`
	TotalPrice     int       `json:"total_price"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_date"`
}

// NewPayment snapshots the prescription price at the moment of payment.
func NewPayment(p *Prescription, payerID string, now time.Time) Payment {
	return Payment{
		ID:             uuid.NewString(),
		PrescriptionID: p.ID,
		TotalPrice:     p.TotalPrice,
		UserID:         payerID,
		CreatedAt:      now,
	}
}
