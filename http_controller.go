package secretariat

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"

	"github.com/betagouv/secretariat/middleware/csrf"
)

// RegisterRoutes mounts the login flow and the account action routes
func RegisterRoutes[T any](app router.Router[T], controller *AccountController) {
	r := controller.Routes

	app.Get(r.Login, controller.LoginShow).SetName("sign-in.get")
	app.Post(r.Login, controller.LoginPost).SetName("sign-in.post")
	app.Get(r.ConsumeToken, controller.ConsumeToken).SetName("sign-in.consume")
	app.Get(r.Logout, controller.LogOut).SetName("sign-out.get")

	guard := []router.MiddlewareFunc{controller.Auther.ProtectedRoute()}
	if len(controller.CSRFKey) > 0 {
		guard = append(guard, csrf.New(csrf.Config{
			SecureKey: controller.CSRFKey,
			SessionKey: func(c router.Context) string {
				username, _ := CurrentUsername(c, controller.Auther.CookieName())
				return username
			},
			ErrorHandler: controller.csrfFailed,
		}))
	}

	app.Get(r.Community, controller.CommunityShow, guard...).SetName("community.get")
	app.Get(r.Community+"/:username", controller.ProfileShow, guard...).SetName("profile.get")
	csrf.RegisterRoutes(app, csrf.RouteConfig{}, guard...)

	users := app.Group(r.Users)
	users.Post("/:username/email", controller.CreateEmail, guard...).SetName("email.create")
	users.Post("/:username/email/delete", controller.DeleteEmail, guard...).SetName("email.delete")
	users.Post("/:username/redirections", controller.CreateRedirection, guard...).SetName("redirection.create")
	users.Post("/:username/redirections/:email/delete", controller.DeleteRedirection, guard...).SetName("redirection.delete")
	users.Post("/:username/password", controller.ChangePassword, guard...).SetName("password.change")
	users.Post("/:username/end-date", controller.RequestEndDateChange, guard...).SetName("end-date.change")
}

type AccountControllerRoutes struct {
	Login        string
	Logout       string
	ConsumeToken string
	Community    string
	Users        string
}

type AccountController struct {
	Logger       Logger
	Routes       *AccountControllerRoutes
	Auther       *RouteAuthenticator
	Tokens       *TokenManager
	LoginHandler *LoginRequestHandler
	Actions      *AccountActions
	Directory    DirectoryClient
	// CSRFKey enables CSRF checks on the account forms when set
	CSRFKey []byte
}

type AccountControllerOption func(*AccountController) *AccountController

func NewAccountController(opts ...AccountControllerOption) *AccountController {
	c := &AccountController{
		Logger: defLogger{},
		Routes: &AccountControllerRoutes{
			Login:        LoginPath,
			Logout:       "/logout",
			ConsumeToken: consumeTokenPath,
			Community:    CommunityPath,
			Users:        "/users",
		},
	}

	for _, opt := range opts {
		if opt != nil {
			c = opt(c)
		}
	}

	return c
}

func WithControllerLogger(logger Logger) AccountControllerOption {
	return func(ac *AccountController) *AccountController {
		ac.Logger = normalizeLogger(logger)
		return ac
	}
}

func WithAuthenticator(auther *RouteAuthenticator) AccountControllerOption {
	return func(ac *AccountController) *AccountController {
		ac.Auther = auther
		return ac
	}
}

func WithTokenManager(tokens *TokenManager) AccountControllerOption {
	return func(ac *AccountController) *AccountController {
		ac.Tokens = tokens
		return ac
	}
}

func WithLoginHandler(handler *LoginRequestHandler) AccountControllerOption {
	return func(ac *AccountController) *AccountController {
		ac.LoginHandler = handler
		return ac
	}
}

func WithAccountActions(actions *AccountActions) AccountControllerOption {
	return func(ac *AccountController) *AccountController {
		ac.Actions = actions
		return ac
	}
}

func WithDirectory(directory DirectoryClient) AccountControllerOption {
	return func(ac *AccountController) *AccountController {
		ac.Directory = directory
		return ac
	}
}

// WithCSRFKey protects the account forms with tokens signed by key
func WithCSRFKey(key []byte) AccountControllerOption {
	return func(ac *AccountController) *AccountController {
		ac.CSRFKey = key
		return ac
	}
}

func (a *AccountController) LoginShow(c router.Context) error {
	return c.JSON(router.StatusOK, map[string]any{
		"flash": flash.Get(c),
	})
}

func (a *AccountController) LoginPost(c router.Context) error {
	payload := new(LoginRequestMessage)
	if err := a.parse(c, payload); err != nil {
		return a.redirectWithError(c, LoginPath, "Unable to read the login form.")
	}

	if err := a.LoginHandler.Execute(c.Context(), *payload); err != nil {
		if IsInvalidInput(err) {
			return a.redirectWithErrors(c, LoginPath, ValidationMessages(err))
		}
		a.Logger.Error("login request failed", "error", err, "details", errorDetails(err))
		return a.redirectWithError(c, LoginPath, "The sign in email could not be sent, please try again later.")
	}

	return flash.WithSuccess(c, router.ViewContext{
		"system_message": "If this username belongs to a member, a sign in link has been sent to their email address.",
	}).Redirect(LoginPath, redirectStatus(c))
}

func (a *AccountController) ConsumeToken(c router.Context) error {
	record, err := a.Tokens.Redeem(c.Context(), c.Query("token", ""))
	if err != nil {
		switch {
		case IsExpiredToken(err):
			return a.redirectWithError(c, LoginPath, "This sign in link has expired, please ask for a new one.")
		case IsInvalidToken(err):
			return a.redirectWithError(c, LoginPath, "This sign in link is invalid or has already been used.")
		default:
			a.Logger.Error("login token redeem failed", "error", err, "details", errorDetails(err))
			return a.redirectWithError(c, LoginPath, "Unable to sign you in, please try again later.")
		}
	}

	if err := a.Auther.IssueSession(c, record.Username); err != nil {
		return a.redirectWithError(c, LoginPath, "Unable to sign you in, please try again later.")
	}

	return c.Redirect(CommunityPath, redirectStatus(c))
}

func (a *AccountController) LogOut(c router.Context) error {
	a.Auther.RevokeSession(c)
	return flash.WithSuccess(c, router.ViewContext{
		"system_message": "You are signed out.",
	}).Redirect(LoginPath, redirectStatus(c))
}

func (a *AccountController) CommunityShow(c router.Context) error {
	username, err := CurrentUsername(c, a.Auther.CookieName())
	if err != nil {
		return a.Auther.AuthErrorHandler(c, err)
	}
	return c.Redirect(ProfilePath(username), redirectStatus(c))
}

func (a *AccountController) ProfileShow(c router.Context) error {
	current, err := CurrentUsername(c, a.Auther.CookieName())
	if err != nil {
		return a.Auther.AuthErrorHandler(c, err)
	}

	username := pathParam(c, "username")
	record, err := a.Directory.GetRecord(c.Context(), username)
	if err != nil {
		if !IsRecordNotFound(err) {
			a.Logger.Error("profile directory lookup failed", "username", username, "error", err)
			return c.JSON(http.StatusBadGateway, map[string]any{
				"error": "The member directory is unavailable.",
			})
		}
		record = MissingRecord(username)
	}

	return c.JSON(router.StatusOK, map[string]any{
		"current_user": current,
		"is_self":      current == username,
		"email":        a.Actions.MemberEmail(username),
		"record":       record,
		"csrf_token":   csrf.Token(c, ""),
		"flash":        flash.Get(c),
	})
}

func (a *AccountController) CreateEmail(c router.Context) error {
	req, err := a.actionRequest(c)
	if err != nil {
		return a.rejectRequest(c, err)
	}

	payload := CreateEmailPayload{}
	if err := a.parse(c, &payload); err != nil {
		return a.redirectWithError(c, ProfilePath(req.TargetUsername), "Unable to read the form.")
	}

	outcome, err := a.Actions.CreateEmail(c.Context(), CreateEmailMessage{
		AccountActionRequest: req,
		Payload:              payload,
	})
	return a.respond(c, req, outcome, err)
}

func (a *AccountController) DeleteEmail(c router.Context) error {
	req, err := a.actionRequest(c)
	if err != nil {
		return a.rejectRequest(c, err)
	}

	outcome, err := a.Actions.DeleteEmail(c.Context(), DeleteEmailMessage{
		AccountActionRequest: req,
	})
	return a.respond(c, req, outcome, err)
}

type redirectionForm struct {
	ToEmail  string `form:"to_email" json:"to_email"`
	KeepCopy string `form:"keep_copy" json:"keep_copy"`
}

func (a *AccountController) CreateRedirection(c router.Context) error {
	req, err := a.actionRequest(c)
	if err != nil {
		return a.rejectRequest(c, err)
	}

	form := redirectionForm{}
	if err := a.parse(c, &form); err != nil {
		return a.redirectWithError(c, ProfilePath(req.TargetUsername), "Unable to read the form.")
	}

	keepCopy := strings.EqualFold(form.KeepCopy, "true") || strings.EqualFold(form.KeepCopy, "on")
	outcome, err := a.Actions.CreateRedirection(c.Context(), CreateRedirectionMessage{
		AccountActionRequest: req,
		Payload: CreateRedirectionPayload{
			ToEmail:  strings.TrimSpace(form.ToEmail),
			KeepCopy: keepCopy,
		},
	})
	return a.respond(c, req, outcome, err)
}

func (a *AccountController) DeleteRedirection(c router.Context) error {
	req, err := a.actionRequest(c)
	if err != nil {
		return a.rejectRequest(c, err)
	}

	outcome, err := a.Actions.DeleteRedirection(c.Context(), DeleteRedirectionMessage{
		AccountActionRequest: req,
		ToEmail:              pathParam(c, "email"),
	})
	return a.respond(c, req, outcome, err)
}

func (a *AccountController) ChangePassword(c router.Context) error {
	req, err := a.actionRequest(c)
	if err != nil {
		return a.rejectRequest(c, err)
	}

	payload := ChangePasswordPayload{}
	if err := a.parse(c, &payload); err != nil {
		return a.redirectWithError(c, ProfilePath(req.TargetUsername), "Unable to read the form.")
	}

	outcome, err := a.Actions.ChangePassword(c.Context(), ChangePasswordMessage{
		AccountActionRequest: req,
		Payload:              payload,
	})
	return a.respond(c, req, outcome, err)
}

func (a *AccountController) RequestEndDateChange(c router.Context) error {
	req, err := a.actionRequest(c)
	if err != nil {
		return a.rejectRequest(c, err)
	}

	payload := EndDatePayload{}
	if err := a.parse(c, &payload); err != nil {
		return a.redirectWithError(c, ProfilePath(req.TargetUsername), "Unable to read the form.")
	}

	outcome, err := a.Actions.RequestEndDateChange(c.Context(), RequestEndDateChangeMessage{
		AccountActionRequest: req,
		Payload:              payload,
	})
	return a.respond(c, req, outcome, err)
}

func (a *AccountController) csrfFailed(c router.Context, err error) error {
	a.Logger.Warn("csrf check failed", "path", c.Path(), "error", err)
	to := CommunityPath
	if username := pathParam(c, "username"); validUsernameParam(username) {
		to = ProfilePath(username)
	}
	return a.redirectWithError(c, to, "The form has expired, please try again.")
}

func (a *AccountController) actionRequest(c router.Context) (AccountActionRequest, error) {
	acting, err := CurrentUsername(c, a.Auther.CookieName())
	if err != nil {
		return AccountActionRequest{}, err
	}

	target := pathParam(c, "username")
	if !validUsernameParam(target) {
		return AccountActionRequest{}, NewInvalidInput("username: must not contain a path separator")
	}

	return AccountActionRequest{
		ActingUsername: acting,
		TargetUsername: target,
	}, nil
}

// rejectRequest answers an actionRequest failure
func (a *AccountController) rejectRequest(c router.Context, err error) error {
	if IsInvalidInput(err) {
		a.Logger.Warn("rejected account action target", "path", c.Path(), "error", err)
		return a.redirectWithErrors(c, CommunityPath, ValidationMessages(err))
	}
	return a.Auther.AuthErrorHandler(c, err)
}

// respond turns an action result into a flash and a redirect
func (a *AccountController) respond(c router.Context, req AccountActionRequest, outcome *Outcome, err error) error {
	if err != nil {
		if IsInvalidInput(err) {
			return a.redirectWithErrors(c, ProfilePath(req.TargetUsername), ValidationMessages(err))
		}
		return a.redirectWithError(c, ProfilePath(req.TargetUsername), errorMessage(err))
	}

	if outcome.SessionRevoked {
		a.Auther.RevokeSession(c)
	}

	redirect := outcome.Redirect
	if redirect == "" {
		redirect = ProfilePath(req.TargetUsername)
	}

	return flash.WithSuccess(c, router.ViewContext{
		"system_message": outcome.Message,
	}).Redirect(redirect, redirectStatus(c))
}

func (a *AccountController) parse(c router.Context, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.Bind(out); err != nil {
		a.Logger.Error("failed to parse form", "path", c.Path(), "error", err)
		return err
	}
	return nil
}

func (a *AccountController) redirectWithError(c router.Context, to, message string) error {
	return a.redirectWithErrors(c, to, []string{message})
}

func (a *AccountController) redirectWithErrors(c router.Context, to string, messages []string) error {
	return flash.WithError(c, router.ViewContext{
		"error_message": strings.Join(messages, "\n"),
	}).Redirect(to, redirectStatus(c))
}

// redirectStatus keeps GET redirects as 302 and turns submits into a GET
func redirectStatus(c router.Context) int {
	if c.Method() == http.MethodGet {
		return http.StatusFound
	}
	return router.StatusSeeOther
}

func pathParam(c router.Context, name string) string {
	raw := c.Param(name, "")
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

// validUsernameParam rejects values that would escape the member file tree
func validUsernameParam(username string) bool {
	return username != "" &&
		!strings.Contains(username, "/") &&
		!strings.Contains(username, "\\") &&
		!strings.Contains(username, "..")
}

func errorMessage(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	return "An unexpected error occurred."
}

func errorDetails(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return print.MaybePrettyJSON(richErr.Metadata)
	}
	return ""
}
