package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var ErrInsufficientStock = errors.New("insufficient stock")

// MaxQuantity bounds every stored quantity and amount to the range of a
// signed 32-bit column.
const MaxQuantity = math.MaxInt32

type Medicine struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Stock     int        `json:"stock"`
	Price     int        `json:"price"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"-"`
}

func (m *Medicine) IsDeleted() bool {
	return m.DeletedAt != nil
}

// Reserve takes qty units out of stock.
func (m *Medicine) Reserve(qty int) error {
	if qty < 0 {
		return ValidationError("Stock cannot be negative")
	}
	if qty > m.Stock {
		return ErrInsufficientStock
	}
	m.Stock -= qty
	return nil
}

// Restore puts qty units back into stock.
func (m *Medicine) Restore(qty int) error {
	if qty < 0 {
		return ValidationError("Stock cannot be negative")
	}
	if qty > MaxQuantity-m.Stock {
		return ValidationError(fmt.Sprintf("Stock cannot exceed %d", MaxQuantity))
	}
	m.Stock += qty
	return nil
}

// NewMedicine carries creation input. Stock and Price are pointers so a
// missing field can be told apart from an explicit zero.
type NewMedicine struct {
	Name  string `json:"name"`
	Stock *int   `json:"stock"`
	Price *int   `json:"price"`
}

func (n NewMedicine) Validate() error {
	if strings.TrimSpace(n.Name) == "" || n.Stock == nil || n.Price == nil {
		return ValidationError("Missing required fields")
	}
	if *n.Stock < 0 || *n.Price <= 0 {
		return ValidationError("Stock must be >= 0 and price must be > 0")
	}
	if *n.Stock > MaxQuantity || *n.Price > MaxQuantity {
		return ValidationError(fmt.Sprintf("Stock and price cannot exceed %d", MaxQuantity))
	}
	return nil
}

func (n NewMedicine) Build(id string, now time.Time) Medicine {
	return Medicine{
		ID:        id,
		Name:      strings.TrimSpace(n.Name),
		Stock:     *n.Stock,
		Price:     *n.Price,
		CreatedAt: now,
	}
}
