package domain

// Allocation is what one processing pass handed out for a single line.
type Allocation struct {
	MedicineID     string `json:"medicine_id"`
	Name           string `json:"name"`
	NeededQty      int    `json:"needed_qty"`
	FulfilledQty   int    `json:"fulfilled_qty"`
	Allocated      int    `json:"-"`
	StockRemaining int    `json:"stock_remaining"`
}

func (p *Prescription) CanBeProcessed() error {
	if p.Status != StatusCreated && p.Status != StatusOnProcess {
		return ConflictError("Prescription cannot be processed in its current status.")
	}
	return nil
}

// Fulfill hands out as much outstanding need as stock allows. stock is keyed
// by medicine ID and is drawn down in place; a medicine missing from the map
// has nothing to give. The prescription finishes only once every line is
// complete, otherwise it stays ON PROCESS.
func (p *Prescription) Fulfill(stock map[string]int) ([]Allocation, error) {
	if err := p.CanBeProcessed(); err != nil {
		return nil, err
	}

	allocations := make([]Allocation, 0, len(p.Lines))
	for i := range p.Lines {
		line := &p.Lines[i]
		available := max(stock[line.MedicineID], 0)
		qty := min(line.Outstanding(), available)
		if qty < 0 {
			qty = 0
		}

		line.FulfilledQty += qty
		stock[line.MedicineID] = available - qty

		allocations = append(allocations, Allocation{
			MedicineID:     line.MedicineID,
			Name:           line.MedicineName,
			NeededQty:      line.NeededQty,
			FulfilledQty:   line.FulfilledQty,
			Allocated:      qty,
			StockRemaining: stock[line.MedicineID],
		})
	}

	if p.IsFullyFulfilled() {
		p.Status = StatusFinished
	} else {
		p.Status = StatusOnProcess
	}
	return allocations, nil
}
