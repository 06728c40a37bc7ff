package secretariat

import (
	"context"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const consumeTokenPath = "/consume-token"

// LoginRequestMessage is posted by the login form
type LoginRequestMessage struct {
	Username string `form:"username" json:"username"`
}

func (p LoginRequestMessage) Type() string { return "login.request" }

// LoginRequestHandler issues a login token for a known member and mails the
// sign in link to their managed address. Unknown usernames are dropped
// silently so the response does not reveal who is a member.
type LoginRequestHandler struct {
	directory  DirectoryClient
	tokens     *TokenManager
	mailer     Mailer
	baseURL    string
	mailDomain string
	logger     Logger
}

func NewLoginRequestHandler(directory DirectoryClient, tokens *TokenManager, mailer Mailer, baseURL, mailDomain string, logger Logger) *LoginRequestHandler {
	return &LoginRequestHandler{
		directory:  directory,
		tokens:     tokens,
		mailer:     mailer,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		mailDomain: strings.TrimPrefix(mailDomain, "@"),
		logger:     normalizeLogger(logger),
	}
}

func (h *LoginRequestHandler) Execute(ctx context.Context, event LoginRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during login request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *LoginRequestHandler) execute(ctx context.Context, event LoginRequestMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	username := strings.ToLower(strings.TrimSpace(event.Username))
	if username == "" {
		return NewInvalidInput("username: cannot be blank")
	}

	record, err := h.directory.GetRecord(ctx, username)
	if err != nil {
		if IsRecordNotFound(err) {
			h.logger.Info("login requested for unknown member", "username", username)
			return nil
		}
		return WrapCollaborator(err, "directory.get_record", "failed to look up the member")
	}
	if record == nil || !record.Exists {
		h.logger.Info("login requested for unknown member", "username", username)
		return nil
	}

	email := username + "@" + h.mailDomain
	token, err := h.tokens.Issue(ctx, username, email)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to issue login token")
	}

	mail, err := RenderLoginMail(h.baseURL, username, h.LoginLink(token.Token), h.tokens.TTL().String())
	if err != nil {
		return err
	}

	if err := h.mailer.Send(ctx, email, mail.Subject, mail.Body); err != nil {
		return WrapCollaborator(err, "mailer.send_login_link", "failed to send the login email")
	}

	h.logger.Debug("login link sent", "username", username)
	return nil
}

// LoginLink is the absolute redemption URL for token
func (h *LoginRequestHandler) LoginLink(token string) string {
	return h.baseURL + consumeTokenPath + "?token=" + url.QueryEscape(token)
}
