package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rl1809/pharmacy/internal/adapter/storage"
	"github.com/rl1809/pharmacy/internal/core/domain"
)

const patientID = "c5b6a8a4-0d7e-4c1e-9a55-2a7c3f3f1b10"

var (
	pharmacist = domain.Principal{UserID: "11111111-1111-4111-8111-111111111111", Role: domain.RolePharmacist}
	doctor     = domain.Principal{UserID: "22222222-2222-4222-8222-222222222222", Role: domain.RoleDoctor}
	patient    = domain.Principal{UserID: patientID, Role: domain.RolePatient, Token: "patient-token"}
	stranger   = domain.Principal{UserID: "33333333-3333-4333-8333-333333333333", Role: domain.RolePatient, Token: "stranger-token"}
)

// Mock CacheRepository
type mockCache struct {
	mu    sync.Mutex
	locks map[string]string
}

func newMockCache() *mockCache {
	return &mockCache{locks: make(map[string]string)}
}

func (m *mockCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.locks[key]; held {
		return "", false, nil
	}
	m.locks[key] = key + "-owner"
	return key + "-owner", true, nil
}

func (m *mockCache) ReleaseLock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] == token {
		delete(m.locks, key)
	}
	return nil
}

func (m *mockCache) GetPrincipal(ctx context.Context, key string) (*domain.Principal, error) {
	return nil, nil
}

func (m *mockCache) SetPrincipal(ctx context.Context, key string, p domain.Principal, ttl time.Duration) error {
	return nil
}

// Mock WalletService
type mockWallet struct {
	mu          sync.Mutex
	balances    map[string]int
	withdrawErr error
	balanceErr  error
	withdrawals int
}

func newMockWallet(balance int) *mockWallet {
	return &mockWallet{balances: map[string]int{"patient-token": balance}}
}

func (m *mockWallet) Balance(ctx context.Context, token string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balanceErr != nil {
		return 0, m.balanceErr
	}
	return m.balances[token], nil
}

func (m *mockWallet) Withdraw(ctx context.Context, token string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.withdrawErr != nil {
		return m.withdrawErr
	}
	if m.balances[token] < amount {
		return domain.ConflictError("Payment failed: withdrawal rejected by wallet service")
	}
	m.balances[token] -= amount
	m.withdrawals++
	return nil
}

// Mock Recorder
type mockRecorder struct {
	mu        sync.Mutex
	created   int
	processed map[string]int
	cancelled int
	payments  int
	stock     map[string]int
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{processed: make(map[string]int), stock: make(map[string]int)}
}

func (m *mockRecorder) MedicineCreated() {}

func (m *mockRecorder) StockAdjusted(reason string, units int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[reason] += units
}

func (m *mockRecorder) PrescriptionCreated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
}

func (m *mockRecorder) PrescriptionProcessed(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[status]++
}

func (m *mockRecorder) PrescriptionCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled++
}

func (m *mockRecorder) PaymentRecorded(amount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments++
}

type fixture struct {
	store     *storage.MemoryAdapter
	wallet    *mockWallet
	cache     *mockCache
	recorder  *mockRecorder
	inventory *InventoryService
	rx        *PrescriptionService
}

func newFixture(balance int) *fixture {
	f := &fixture{
		store:    storage.NewMemoryAdapter(),
		wallet:   newMockWallet(balance),
		cache:    newMockCache(),
		recorder: newMockRecorder(),
	}
	f.inventory = NewInventoryService(f.store, nil, f.recorder)
	f.rx = NewPrescriptionService(PrescriptionDeps{
		DB:       f.store,
		Cache:    f.cache,
		Wallet:   f.wallet,
		Recorder: f.recorder,
	})
	return f
}

func intPtr(v int) *int { return &v }

func (f *fixture) medicine(t *testing.T, name string, stock, price int) domain.Medicine {
	t.Helper()
	med, err := f.inventory.CreateMedicine(context.Background(), pharmacist, domain.NewMedicine{
		Name: name, Stock: intPtr(stock), Price: intPtr(price),
	})
	if err != nil {
		t.Fatalf("create medicine %s: %v", name, err)
	}
	return med
}

func (f *fixture) prescription(t *testing.T, reqs ...domain.MedicineRequest) domain.Prescription {
	t.Helper()
	p, err := f.rx.Create(context.Background(), doctor, PrescriptionInput{PatientID: patientID, Medicines: reqs})
	if err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	return p
}

func (f *fixture) stock(t *testing.T, id string) int {
	t.Helper()
	med, err := f.store.GetMedicine(context.Background(), id)
	if err != nil || med == nil {
		t.Fatalf("get medicine %s: %v", id, err)
	}
	return med.Stock
}
