package secretariat

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

const (
	// DefaultLoginTokenTTL is how long an emailed login link stays valid
	DefaultLoginTokenTTL = time.Hour
	loginTokenBytes      = 32
)

// TokenManager issues and redeems single-use login tokens
type TokenManager struct {
	store    LoginTokenStore
	ttl      time.Duration
	now      func() time.Time
	random   func([]byte) (int, error)
	logger   Logger
	activity ActivitySink
}

// TokenManagerOption configures a TokenManager
type TokenManagerOption func(*TokenManager)

func WithTokenTTL(ttl time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithTokenClock overrides the time source, used by tests
func WithTokenClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithTokenLogger(logger Logger) TokenManagerOption {
	return func(m *TokenManager) {
		m.logger = normalizeLogger(logger)
	}
}

func WithTokenActivitySink(sink ActivitySink) TokenManagerOption {
	return func(m *TokenManager) {
		m.activity = normalizeActivitySink(sink)
	}
}

func NewTokenManager(store LoginTokenStore, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		store:    store,
		ttl:      DefaultLoginTokenTTL,
		now:      time.Now,
		random:   rand.Read,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// TTL returns the lifetime of issued tokens
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue creates and stores a new token for username. Earlier tokens of the
// same member are left untouched.
func (m *TokenManager) Issue(ctx context.Context, username, email string) (*LoginToken, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled during login token issue")
	default:
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, NewInvalidInput("username is required")
	}

	value, err := m.generate()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	record, err := m.store.Create(ctx, &LoginToken{
		Token:     value,
		Username:  username,
		Email:     email,
		ExpiresAt: now.Add(m.ttl),
		CreatedAt: now,
	})
	if err != nil {
		m.logger.Error("failed to store login token", "username", username, "error", err)
		return nil, err
	}

	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType:  ActivityEventLoginTokenIssued,
		Actor:      username,
		Target:     username,
		OccurredAt: now,
		Metadata: map[string]any{
			"expires_at": record.ExpiresAt,
		},
	})

	return record, nil
}

// Redeem exchanges a token for its record. The token is deleted on success,
// expired tokens are left in place and keep failing until purged.
func (m *TokenManager) Redeem(ctx context.Context, token string) (*LoginToken, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled during login token redeem")
	default:
	}

	now := m.now().UTC()

	record, err := m.store.GetByToken(ctx, token)
	if err != nil {
		m.reject(ctx, "", err)
		return nil, err
	}

	if record.IsExpired(now) {
		m.reject(ctx, record.Username, ErrExpiredToken)
		return nil, ErrExpiredToken
	}

	consumed, err := m.store.Consume(ctx, token)
	if err != nil {
		m.reject(ctx, record.Username, err)
		return nil, err
	}

	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType:  ActivityEventLoginTokenRedeemed,
		Actor:      consumed.Username,
		Target:     consumed.Username,
		OccurredAt: now,
	})

	return consumed, nil
}

// Purge removes expired tokens and returns how many were deleted
func (m *TokenManager) Purge(ctx context.Context) (int, error) {
	now := m.now().UTC()
	n, err := m.store.DeleteExpired(ctx, now)
	if err != nil {
		m.logger.Error("failed to purge login tokens", "error", err)
		return n, err
	}

	if n > 0 {
		m.logger.Debug("purged expired login tokens", "count", n)
		recordActivity(ctx, m.activity, m.logger, ActivityEvent{
			EventType:  ActivityEventLoginTokensPurged,
			OccurredAt: now,
			Metadata:   map[string]any{"count": n},
		})
	}
	return n, nil
}

func (m *TokenManager) reject(ctx context.Context, username string, err error) {
	m.logger.Info("login token rejected", "username", username, "error", err)
	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventLoginTokenRejected,
		Actor:     username,
		Target:    username,
		Metadata: map[string]any{
			"reason": err.Error(),
		},
	})
}

func (m *TokenManager) generate() (string, error) {
	buf := make([]byte, loginTokenBytes)
	if _, err := m.random(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate login token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
