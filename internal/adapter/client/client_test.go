package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rl1809/pharmacy/internal/core/domain"
)

type mockRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (m *mockRecorder) UpstreamCall(service, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[service+":"+outcome]++
}

func TestAuthClient_Validate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != validatePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Write([]byte(`{"success":true,"data":{"id":"C5B6A8A4-0D7E-4C1E-9A55-2A7C3F3F1B10","role":"patient","email":"p@example.com"}}`))
		case "Bearer odd":
			w.Write([]byte(`{"success":false}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	rec := &mockRecorder{}
	c := NewAuthClient(Options{BaseURL: srv.URL, Timeout: time.Second, Recorder: rec})
	ctx := context.Background()

	p, err := c.Validate(ctx, "good")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != "c5b6a8a4-0d7e-4c1e-9a55-2a7c3f3f1b10" || p.Role != domain.RolePatient || p.Token != "good" {
		t.Errorf("unexpected principal: %+v", p)
	}

	_, err = c.Validate(ctx, "bad")
	if domain.KindOf(err) != domain.KindUnauthorized || domain.MessageOf(err) != "Unauthorized: Invalid token" {
		t.Errorf("expected invalid token, got: %v", err)
	}

	_, err = c.Validate(ctx, "odd")
	if domain.MessageOf(err) != "Unauthorized: Invalid response from auth service" {
		t.Errorf("expected invalid response, got: %v", err)
	}

	if rec.calls["auth:ok"] != 2 || rec.calls["auth:rejected"] != 1 {
		t.Errorf("unexpected recorded calls: %v", rec.calls)
	}
}

func TestAuthClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewAuthClient(Options{BaseURL: url, Timeout: time.Second})
	_, err := c.Validate(context.Background(), "any")
	if domain.KindOf(err) != domain.KindUpstream || domain.MessageOf(err) != "Authorization service unavailable" {
		t.Errorf("expected upstream error, got: %v", err)
	}
}

func TestAuthClient_ServerErrorTripsBreaker(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewAuthClient(Options{BaseURL: srv.URL, Timeout: time.Second})
	for i := 0; i < 8; i++ {
		_, err := c.Validate(context.Background(), "any")
		if domain.KindOf(err) != domain.KindUpstream {
			t.Fatalf("call %d: expected upstream error, got: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if hits != 5 {
		t.Errorf("expected breaker to open after 5 failures, server saw %d calls", hits)
	}
}

type mockCache struct {
	mu         sync.Mutex
	principals map[string]domain.Principal
}

func (m *mockCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "token", true, nil
}

func (m *mockCache) ReleaseLock(ctx context.Context, key, token string) error { return nil }

func (m *mockCache) GetPrincipal(ctx context.Context, key string) (*domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockCache) SetPrincipal(ctx context.Context, key string, p domain.Principal, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.principals == nil {
		m.principals = make(map[string]domain.Principal)
	}
	p.Token = ""
	m.principals[key] = p
	return nil
}

type countingAuth struct {
	mu    sync.Mutex
	calls int
}

func (c *countingAuth) Validate(ctx context.Context, token string) (domain.Principal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if token == "bad" {
		return domain.Principal{}, domain.UnauthorizedError("Unauthorized: Invalid token")
	}
	return domain.Principal{UserID: "u-1", Role: domain.RoleDoctor, Token: token}, nil
}

func TestCachedAuth(t *testing.T) {
	next := &countingAuth{}
	cache := &mockCache{}
	auth := NewCachedAuth(next, cache, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		p, err := auth.Validate(ctx, "good")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Token != "good" || p.Role != domain.RoleDoctor {
			t.Errorf("unexpected principal: %+v", p)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", next.calls)
	}

	for i := 0; i < 2; i++ {
		if _, err := auth.Validate(ctx, "bad"); domain.KindOf(err) != domain.KindUnauthorized {
			t.Errorf("expected unauthorized, got: %v", err)
		}
	}
	if next.calls != 3 {
		t.Errorf("expected rejected tokens to stay uncached, got %d calls", next.calls)
	}
	if _, ok := cache.principals[tokenKey("good")]; !ok {
		t.Error("expected principal cached under hashed token")
	}
}

func TestWalletClient(t *testing.T) {
	var (
		mu        sync.Mutex
		withdrawn []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer patient-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case balancePath:
			w.Write([]byte(`{"success":true,"data":{"balance":1500}}`))
		case withdrawPath:
			var req withdrawRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Amount > 1500 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			mu.Lock()
			withdrawn = append(withdrawn, req.Amount)
			mu.Unlock()
			w.Write([]byte(`{"success":true}`))
		}
	}))
	defer srv.Close()

	c := NewWalletClient(Options{BaseURL: srv.URL + "/", Timeout: time.Second})
	ctx := context.Background()

	balance, err := c.Balance(ctx, "patient-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 1500 {
		t.Errorf("expected balance 1500, got %d", balance)
	}

	if err := c.Withdraw(ctx, "patient-token", 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Withdraw(ctx, "patient-token", 2000); domain.KindOf(err) != domain.KindConflict {
		t.Errorf("expected conflict on rejected withdrawal, got: %v", err)
	}
	if _, err := c.Balance(ctx, "other"); domain.KindOf(err) != domain.KindUpstream {
		t.Errorf("expected upstream error on refused balance, got: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(withdrawn) != 1 || withdrawn[0] != 1000 {
		t.Errorf("unexpected withdrawals: %v", withdrawn)
	}
}

func TestWalletClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewWalletClient(Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err := c.Withdraw(context.Background(), "t", 1); domain.KindOf(err) != domain.KindUpstream {
		t.Errorf("expected upstream error on timeout, got: %v", err)
	}
}
