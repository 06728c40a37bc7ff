package secretariat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetContextKey() string
	GetSessionDuration() time.Duration
	GetLoginTokenTTL() time.Duration
	GetIssuer() string
	GetAudience() []string
	GetSecureCookie() bool
	GetMailDomain() string
	GetBaseURL() string
}

// DirectoryClient resolves a username to the facts published by the member
// directory. A missing member is reported with ErrRecordNotFound.
type DirectoryClient interface {
	GetRecord(ctx context.Context, username string) (*DirectoryRecord, error)
}

// Mailer delivers plain emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NotificationChannel posts a short message to the team chat.
type NotificationChannel interface {
	Post(ctx context.Context, message string) error
}

// MailboxProvider performs mutations on hosted mailboxes and redirections.
type MailboxProvider interface {
	CreateEmail(ctx context.Context, username, password string) error
	DeleteEmail(ctx context.Context, username string) error
	CreateRedirection(ctx context.Context, from, to string, keepCopy bool) error
	DeleteRedirection(ctx context.Context, from, to string) error
	ChangePassword(ctx context.Context, username, password string) error
}

// FileEdit replaces the value of a front matter key.
type FileEdit struct {
	Key string
	Old string
	New string
}

// PullRequestRef points to a proposed change on the code host.
type PullRequestRef struct {
	Number int
	URL    string
	Branch string
}

// CodeHostClient opens a pull request editing a single file. Branch creation,
// file update and pull request creation are one operation from our side.
type CodeHostClient interface {
	ProposeFileChange(ctx context.Context, path string, edits []FileEdit, title string) (*PullRequestRef, error)
}

type defLogger struct{}

func (d defLogger) Debug(msg string, args ...any) {
	fmt.Println("[DBG] SECRETARIAT " + format(msg, args...))
}

func (d defLogger) Info(msg string, args ...any) {
	fmt.Println("[INF] SECRETARIAT " + format(msg, args...))
}

func (d defLogger) Warn(msg string, args ...any) {
	fmt.Println("[WRN] SECRETARIAT " + format(msg, args...))
}

func (d defLogger) Error(msg string, args ...any) {
	fmt.Println("[ERR] SECRETARIAT " + format(msg, args...))
}

func format(msg string, args ...any) string {
	if len(args) == 0 {
		return msg
	}

	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
