package port

import (
	"context"

	"github.com/rl1809/pharmacy/internal/core/domain"
)

// AuthService resolves a bearer token into the caller's identity.
type AuthService interface {
	Validate(ctx context.Context, token string) (domain.Principal, error)
}

// WalletService is the external wallet holding patient balances. Both calls
// act on behalf of the owner of token.
type WalletService interface {
	Balance(ctx context.Context, token string) (int, error)
	Withdraw(ctx context.Context, token string, amount int) error
}
