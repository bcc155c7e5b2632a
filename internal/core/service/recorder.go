package service

// Recorder receives business events for metrics.
type Recorder interface {
	MedicineCreated()
	StockAdjusted(reason string, units int)
	PrescriptionCreated()
	PrescriptionProcessed(status string)
	PrescriptionCancelled()
	PaymentRecorded(amount int)
}

type nopRecorder struct{}

func (nopRecorder) MedicineCreated()                {}
func (nopRecorder) StockAdjusted(string, int)       {}
func (nopRecorder) PrescriptionCreated()            {}
func (nopRecorder) PrescriptionProcessed(string)    {}
func (nopRecorder) PrescriptionCancelled()          {}
func (nopRecorder) PaymentRecorded(int)             {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
