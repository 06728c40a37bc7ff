package secretariat

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginToken is a single-use credential emailed to a member
type LoginToken struct {
	bun.BaseModel `bun:"table:login_tokens,alias:lt"`
	ID            uuid.UUID `bun:"id,pk,nullzero" json:"id,omitempty"`
	Token         string    `bun:"token,notnull,unique" json:"-"`
	Username      string    `bun:"username,notnull" json:"username"`
	Email         string    `bun:"email,notnull" json:"email"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
}

// IsExpired reports whether the token can no longer be redeemed at now
func (t *LoginToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Permissions are the actions the directory allows on a member
type Permissions struct {
	CanCreateEmail       bool `json:"can_create_email" yaml:"can_create_email"`
	CanCreateRedirection bool `json:"can_create_redirection" yaml:"can_create_redirection"`
	CanChangePassword    bool `json:"can_change_password" yaml:"can_change_password"`
}

// Redirection forwards a managed mailbox to an external address
type Redirection struct {
	ID       string `json:"id" yaml:"id"`
	From     string `json:"from" yaml:"from"`
	To       string `json:"to" yaml:"to"`
	KeepCopy bool   `json:"keep_copy" yaml:"keep_copy"`
}

// DirectoryRecord is the read-only view of a member in the directory
type DirectoryRecord struct {
	Username     string        `json:"username"`
	Exists       bool          `json:"exists"`
	IsExpired    bool          `json:"is_expired"`
	HasMailbox   bool          `json:"has_mailbox"`
	EndDate      *time.Time    `json:"end_date,omitempty"`
	Permissions  Permissions   `json:"permissions"`
	Redirections []Redirection `json:"redirections,omitempty"`
}

// MissingRecord is the record we reason about when the directory has no entry
func MissingRecord(username string) *DirectoryRecord {
	return &DirectoryRecord{Username: username}
}

// ActionKind enumerates account actions
type ActionKind string

const (
	ActionCreateEmail          ActionKind = "email.create"
	ActionDeleteEmail          ActionKind = "email.delete"
	ActionCreateRedirection    ActionKind = "redirection.create"
	ActionDeleteRedirection    ActionKind = "redirection.delete"
	ActionChangePassword       ActionKind = "password.change"
	ActionRequestEndDateChange ActionKind = "end_date.change"
)

// AccountActionRequest identifies who acts on whom
type AccountActionRequest struct {
	ActingUsername string
	TargetUsername string
}

// IsSelf reports whether the acting member targets their own account
func (r AccountActionRequest) IsSelf() bool {
	return r.ActingUsername == r.TargetUsername
}

// Outcome is the successful result of an account action
type Outcome struct {
	Kind           ActionKind
	Message        string
	Redirect       string
	SessionRevoked bool
	PullRequest    *PullRequestRef
}
