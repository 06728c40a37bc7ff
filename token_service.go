package secretariat

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// DefaultSessionDuration is the lifetime of a session cookie
const DefaultSessionDuration = 7 * 24 * time.Hour

// SessionService signs and validates session JWTs
type SessionService struct {
	signingKey []byte
	expiration time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

// NewSessionService creates a new SessionService instance
func NewSessionService(signingKey []byte, expiration time.Duration, issuer string, audience jwt.ClaimStrings, logger Logger) *SessionService {
	if expiration <= 0 {
		expiration = DefaultSessionDuration
	}
	return &SessionService{
		signingKey: signingKey,
		expiration: expiration,
		issuer:     issuer,
		audience:   audience,
		now:        time.Now,
		logger:     normalizeLogger(logger),
	}
}

// NewSessionServiceFromConfig builds the service from Config getters
func NewSessionServiceFromConfig(cfg Config, logger Logger) *SessionService {
	return NewSessionService(
		[]byte(cfg.GetSigningKey()),
		cfg.GetSessionDuration(),
		cfg.GetIssuer(),
		cfg.GetAudience(),
		logger,
	)
}

// Expiration returns the configured session lifetime
func (s *SessionService) Expiration() time.Duration {
	return s.expiration
}

// Generate creates a signed session token for userID
func (s *SessionService) Generate(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("session subject must not be empty", errors.CategoryInternal)
	}

	now := s.now()
	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   userID,
			Audience:  s.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiration)),
		},
		UID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate parses and validates a token string, returning its claims
func (s *SessionService) Validate(tokenString string) (*SessionClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(s.issuer))
	}
	if len(s.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(s.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			s.logger.Error("session validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrSessionExpired
		}
		return nil, errors.Wrap(err, ErrSessionMalformed.Category, ErrSessionMalformed.Message).
			WithCode(errors.CodeUnauthorized).
			WithTextCode(ErrSessionMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*SessionClaims); ok && token.Valid {
		return claims, nil
	}

	s.logger.Error("session validate could not decode or validate claims")
	return nil, ErrSessionMalformed
}
