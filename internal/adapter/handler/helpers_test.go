package handler

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rl1809/pharmacy/internal/adapter/storage"
	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/core/service"
)

const patientID = "c5b6a8a4-0d7e-4c1e-9a55-2a7c3f3f1b10"

var testPrincipals = map[string]domain.Principal{
	"pharmacist-token": {UserID: "11111111-1111-4111-8111-111111111111", Role: domain.RolePharmacist, Token: "pharmacist-token"},
	"doctor-token":     {UserID: "22222222-2222-4222-8222-222222222222", Role: domain.RoleDoctor, Token: "doctor-token"},
	"patient-token":    {UserID: patientID, Role: domain.RolePatient, Token: "patient-token"},
}

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuth struct {
	mu    sync.Mutex
	calls int
}

func (s *stubAuth) Validate(ctx context.Context, token string) (domain.Principal, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	p, ok := testPrincipals[token]
	if !ok {
		return domain.Principal{}, domain.UnauthorizedError("Unauthorized: Invalid token")
	}
	return p, nil
}

type stubWallet struct {
	mu      sync.Mutex
	balance int
}

func (s *stubWallet) Balance(ctx context.Context, token string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

func (s *stubWallet) Withdraw(ctx context.Context, token string, amount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount > s.balance {
		return domain.ConflictError("Payment failed: withdrawal rejected by wallet service")
	}
	s.balance -= amount
	return nil
}

type stubCache struct {
	mu    sync.Mutex
	locks map[string]string
}

func (s *stubCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.locks[key]; held {
		return "", false, nil
	}
	s.locks[key] = "token"
	return "token", true, nil
}

func (s *stubCache) ReleaseLock(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *stubCache) GetPrincipal(ctx context.Context, key string) (*domain.Principal, error) {
	return nil, nil
}

func (s *stubCache) SetPrincipal(ctx context.Context, key string, p domain.Principal, ttl time.Duration) error {
	return nil
}

type testEnv struct {
	store         *storage.MemoryAdapter
	auth          *stubAuth
	wallet        *stubWallet
	inventory     *service.InventoryService
	prescriptions *service.PrescriptionService
}

func newTestEnv(balance int) *testEnv {
	env := &testEnv{
		store:  storage.NewMemoryAdapter(),
		auth:   &stubAuth{},
		wallet: &stubWallet{balance: balance},
	}
	env.inventory = service.NewInventoryService(env.store, nil, nil)
	env.prescriptions = service.NewPrescriptionService(service.PrescriptionDeps{
		DB:     env.store,
		Cache:  &stubCache{locks: make(map[string]string)},
		Wallet: env.wallet,
	})
	return env
}
