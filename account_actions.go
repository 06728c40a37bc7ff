package secretariat

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
)

const (
	// DefaultActionTimeout bounds a single account action
	DefaultActionTimeout   = 10 * time.Second
	generatedPasswordBytes = 16
)

// AccountActions runs the account lifecycle actions a signed in member may
// request on their own account or on someone else's.
type AccountActions struct {
	directory  DirectoryClient
	mailboxes  MailboxProvider
	mailer     Mailer
	notifier   NotificationChannel
	codeHost   CodeHostClient
	policy     Policy
	mailDomain string
	baseURL    string
	timeout    time.Duration
	random     func([]byte) (int, error)
	logger     Logger
	activity   ActivitySink
}

// AccountActionsOption configures AccountActions
type AccountActionsOption func(*AccountActions)

func WithMailDomain(domain string) AccountActionsOption {
	return func(a *AccountActions) {
		a.mailDomain = strings.TrimPrefix(strings.TrimSpace(domain), "@")
	}
}

func WithBaseURL(baseURL string) AccountActionsOption {
	return func(a *AccountActions) {
		a.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func WithActionTimeout(d time.Duration) AccountActionsOption {
	return func(a *AccountActions) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithActionsLogger(logger Logger) AccountActionsOption {
	return func(a *AccountActions) {
		a.logger = normalizeLogger(logger)
	}
}

func WithActionsActivitySink(sink ActivitySink) AccountActionsOption {
	return func(a *AccountActions) {
		a.activity = normalizeActivitySink(sink)
	}
}

// WithPasswordSource overrides the random source of generated passwords
func WithPasswordSource(random func([]byte) (int, error)) AccountActionsOption {
	return func(a *AccountActions) {
		if random != nil {
			a.random = random
		}
	}
}

func NewAccountActions(
	directory DirectoryClient,
	mailboxes MailboxProvider,
	mailer Mailer,
	notifier NotificationChannel,
	codeHost CodeHostClient,
	opts ...AccountActionsOption,
) *AccountActions {
	a := &AccountActions{
		directory: directory,
		mailboxes: mailboxes,
		mailer:    mailer,
		notifier:  notifier,
		codeHost:  codeHost,
		timeout:   DefaultActionTimeout,
		random:    rand.Read,
		logger:    defLogger{},
		activity:  noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Policy returns the rules the actions are checked against
func (a *AccountActions) Policy() Policy {
	return a.policy
}

// MemberEmail is the managed address of username
func (a *AccountActions) MemberEmail(username string) string {
	return username + "@" + a.mailDomain
}

// ProfilePath is where the profile of username is rendered
func ProfilePath(username string) string {
	return "/community/" + username
}

func (a *AccountActions) run(
	ctx context.Context,
	kind ActionKind,
	req AccountActionRequest,
	fn func(ctx context.Context) (*Outcome, error),
) (*Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.CategoryOperation, "context cancelled during account action").
			WithMetadata(map[string]any{"action": string(kind)})
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	outcome, err := fn(ctx)
	if err != nil {
		err = asRichError(err, "account action failed")
		eventType := ActivityEventActionFailed
		if IsForbidden(err) {
			eventType = ActivityEventActionDenied
			a.logger.Info("account action denied", "action", kind, "acting", req.ActingUsername, "target", req.TargetUsername, "reason", err)
		} else {
			a.logger.Error("account action failed", "action", kind, "acting", req.ActingUsername, "target", req.TargetUsername, "error", err)
		}
		recordActivity(ctx, a.activity, a.logger, ActivityEvent{
			EventType: eventType,
			Actor:     req.ActingUsername,
			Target:    req.TargetUsername,
			Action:    kind,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return nil, err
	}

	outcome.Kind = kind
	a.logger.Info("account action succeeded", "action", kind, "acting", req.ActingUsername, "target", req.TargetUsername)
	recordActivity(ctx, a.activity, a.logger, ActivityEvent{
		EventType: ActivityEventActionSucceeded,
		Actor:     req.ActingUsername,
		Target:    req.TargetUsername,
		Action:    kind,
	})
	return outcome, nil
}

// record fetches a directory record, a missing member comes back as an
// empty record so the policy can explain the denial
func (a *AccountActions) record(ctx context.Context, username string) (*DirectoryRecord, error) {
	rec, err := a.directory.GetRecord(ctx, username)
	if err != nil {
		if IsRecordNotFound(err) {
			return MissingRecord(username), nil
		}
		return nil, WrapCollaborator(err, "directory.get_record", "failed to fetch the directory record of "+username)
	}
	if rec == nil {
		return MissingRecord(username), nil
	}
	return rec, nil
}

// policyInput loads the target and, for delegated requests, the acting
// member record
func (a *AccountActions) policyInput(ctx context.Context, req AccountActionRequest) (PolicyInput, error) {
	target, err := a.record(ctx, req.TargetUsername)
	if err != nil {
		return PolicyInput{}, err
	}

	in := PolicyInput{
		Target:         target,
		ActingIsTarget: req.IsSelf(),
		Acting:         target,
	}
	if !in.ActingIsTarget {
		acting, err := a.record(ctx, req.ActingUsername)
		if err != nil {
			return PolicyInput{}, err
		}
		in.Acting = acting
	}
	return in, nil
}

// notify posts to the team channel. Failures are logged and never stop the
// action.
func (a *AccountActions) notify(ctx context.Context, message string) {
	if a.notifier == nil {
		return
	}
	if err := a.notifier.Post(ctx, message); err != nil {
		a.logger.Warn("notification failed", "message", message, "error", err)
	}
}

func (a *AccountActions) onBehalf(req AccountActionRequest, action string) string {
	return fmt.Sprintf("At the request of %s on <%s>, %s", req.ActingUsername, a.baseURL, action)
}

func (a *AccountActions) generatePassword() (string, error) {
	buf := make([]byte, generatedPasswordBytes)
	if _, err := a.random(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate password")
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func asRichError(err error, message string) error {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr
	}
	return errors.Wrap(err, errors.CategoryInternal, message)
}
