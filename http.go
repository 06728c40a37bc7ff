package secretariat

import (
	"context"
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"

	"github.com/betagouv/secretariat/middleware/jwtware"
)

const (
	LoginPath     = "/login"
	CommunityPath = "/community"
)

// RouteAuthenticator delivers sessions as cookies and guards routes
type RouteAuthenticator struct {
	sessions         *SessionService
	cfg              Config
	cookieDuration   time.Duration
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
}

func NewHTTPAuthenticator(sessions *SessionService, cfg Config) (*RouteAuthenticator, error) {
	if sessions == nil {
		return nil, errors.New("session service is required", errors.CategoryInternal)
	}

	cookieDuration := DefaultSessionDuration
	if cfg.GetSessionDuration() > 0 {
		cookieDuration = cfg.GetSessionDuration()
	}

	a := &RouteAuthenticator{
		sessions:       sessions,
		cfg:            cfg,
		cookieDuration: cookieDuration,
		Logger:         defLogger{},
	}
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

func (a *RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// CookieName is the session cookie name
func (a *RouteAuthenticator) CookieName() string {
	if key := a.cfg.GetContextKey(); key != "" {
		return key
	}
	return "token"
}

// ProtectedRoute rejects requests without a valid session cookie and stores
// the claims in the request locals under the cookie name
func (a *RouteAuthenticator) ProtectedRoute() router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler:    a.routeAuthErrHandler,
		ContextKey:      a.CookieName(),
		TokenLookup:     "cookie:" + a.CookieName(),
		TokenValidator:  sessionValidator{a.sessions},
		ContextEnricher: ContextEnricherAdapter,
	})
}

// IssueSession signs a session for username and sets the cookie
func (a *RouteAuthenticator) IssueSession(c router.Context, username string) error {
	token, err := a.sessions.Generate(username)
	if err != nil {
		a.Logger.Error("failed to generate session", "username", username, "error", err)
		return err
	}

	a.setCookieToken(c, token, a.cookieDuration)
	return nil
}

// RevokeSession clears the session cookie
func (a *RouteAuthenticator) RevokeSession(c router.Context) {
	a.cookieDel(c, a.CookieName())
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.CookieName(),
		Value:    val,
		Path:     "/",
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   a.cfg.GetSecureCookie(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.GetSecureCookie(),
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) routeAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error

	switch {
	case errors.Is(err, jwtware.ErrJWTMissingOrMalformed):
		richErr = ErrUnableToFindSession
	case errors.As(err, &richErr):
	default:
		richErr = errors.Wrap(err, errors.CategoryAuth, "Invalid authentication token").
			WithCode(errors.CodeUnauthorized)
	}

	return a.AuthErrorHandler(c, richErr)
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	// a stale cookie would fail again on every request
	if c.Cookies(a.CookieName()) != "" {
		a.RevokeSession(c)
	}

	statusCode := http.StatusSeeOther
	if c.Method() == http.MethodGet {
		statusCode = http.StatusFound
	}
	return flash.WithError(c, router.ViewContext{
		"error_message": "You need to sign in to access this page.",
	}).Redirect(LoginPath, statusCode)
}

// sessionValidator narrows SessionService to the middleware interface
type sessionValidator struct {
	sessions *SessionService
}

func (v sessionValidator) Validate(token string) (jwtware.Claims, error) {
	claims, err := v.sessions.Validate(token)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ContextEnricherAdapter stores session claims in the request context
func ContextEnricherAdapter(c context.Context, claims jwtware.Claims) context.Context {
	sessionClaims, ok := claims.(*SessionClaims)
	if !ok {
		return c
	}
	return WithClaimsContext(c, sessionClaims)
}
