package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/port"
)

const (
	balancePath  = "/api/wallet/balance"
	withdrawPath = "/api/wallet/withdraw"
)

type WalletClient struct {
	upstream *upstream
}

var _ port.WalletService = (*WalletClient)(nil)

func NewWalletClient(opts Options) *WalletClient {
	return &WalletClient{upstream: newUpstream("wallet", opts)}
}

type balanceData struct {
	Balance int `json:"balance"`
}

func (c *WalletClient) Balance(ctx context.Context, token string) (int, error) {
	res, err := c.upstream.do(ctx, http.MethodGet, balancePath, token, nil)
	if err != nil {
		return 0, domain.UpstreamError("Wallet service unavailable", err)
	}
	if res.status != http.StatusOK {
		return 0, domain.UpstreamError("Wallet service unavailable", fmt.Errorf("balance returned %d", res.status))
	}

	var body envelope[balanceData]
	if err := json.Unmarshal(res.body, &body); err != nil || !body.Success || body.Data == nil {
		c.upstream.logger.Warn("unexpected wallet response", zap.ByteString("body", res.body))
		return 0, domain.UpstreamError("Wallet service unavailable", fmt.Errorf("malformed balance response"))
	}
	return body.Data.Balance, nil
}

type withdrawRequest struct {
	Amount int `json:"amount"`
}

func (c *WalletClient) Withdraw(ctx context.Context, token string, amount int) error {
	res, err := c.upstream.do(ctx, http.MethodPost, withdrawPath, token, withdrawRequest{Amount: amount})
	if err != nil {
		return domain.UpstreamError("Wallet service unavailable", err)
	}
	if res.status != http.StatusOK {
		c.upstream.logger.Warn("withdrawal rejected",
			zap.Int("status", res.status),
			zap.ByteString("body", res.body),
		)
		return domain.ConflictError("Payment failed: withdrawal rejected by wallet service")
	}
	return nil
}
