package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/pharmacy/internal/core/domain"
	"github.com/rl1809/pharmacy/internal/port"
)

const validatePath = "/api/auth/validate"

type AuthClient struct {
	upstream *upstream
}

var _ port.AuthService = (*AuthClient)(nil)

func NewAuthClient(opts Options) *AuthClient {
	return &AuthClient{upstream: newUpstream("auth", opts)}
}

func (c *AuthClient) Validate(ctx context.Context, token string) (domain.Principal, error) {
	res, err := c.upstream.do(ctx, http.MethodGet, validatePath, token, nil)
	if err != nil {
		return domain.Principal{}, domain.UpstreamError("Authorization service unavailable", err)
	}
	if res.status != http.StatusOK {
		return domain.Principal{}, domain.UnauthorizedError("Unauthorized: Invalid token")
	}

	var body envelope[domain.Principal]
	if err := json.Unmarshal(res.body, &body); err != nil || !body.Success || body.Data == nil {
		c.upstream.logger.Warn("unexpected auth response", zap.ByteString("body", res.body))
		return domain.Principal{}, domain.UnauthorizedError("Unauthorized: Invalid response from auth service")
	}

	p := *body.Data
	if p.UserID == "" || p.Role == "" {
		return domain.Principal{}, domain.UnauthorizedError("Unauthorized: Invalid response from auth service")
	}
	if id, err := uuid.Parse(p.UserID); err == nil {
		p.UserID = id.String()
	}
	p.Role = domain.Role(strings.ToUpper(string(p.Role)))
	p.Token = token
	return p, nil
}

// CachedAuth serves repeated validations of the same token from the cache
// for ttl. Cache failures fall through to the wrapped service.
type CachedAuth struct {
	next   port.AuthService
	cache  port.CacheRepository
	ttl    time.Duration
	logger *zap.Logger
}

var _ port.AuthService = (*CachedAuth)(nil)

func NewCachedAuth(next port.AuthService, cache port.CacheRepository, ttl time.Duration, logger *zap.Logger) *CachedAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedAuth{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedAuth) Validate(ctx context.Context, token string) (domain.Principal, error) {
	if c.ttl <= 0 {
		return c.next.Validate(ctx, token)
	}

	key := tokenKey(token)
	cached, err := c.cache.GetPrincipal(ctx, key)
	if err != nil {
		c.logger.Warn("principal cache read failed", zap.Error(err))
	}
	if cached != nil {
		cached.Token = token
		return *cached, nil
	}

	p, err := c.next.Validate(ctx, token)
	if err != nil {
		return p, err
	}

	if err := c.cache.SetPrincipal(ctx, key, p, c.ttl); err != nil {
		c.logger.Warn("principal cache write failed", zap.Error(err))
	}
	return p, nil
}

// tokenKey keeps raw bearer tokens out of the cache.
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
