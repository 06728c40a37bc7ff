// Package directory holds an in-memory member directory loaded from a YAML
// fixture. It also plays the mailbox provider so a development server can run
// every account action without external services.
package directory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/betagouv/secretariat"
)

// Member is a fixture entry
type Member struct {
	Username     string                   `yaml:"username"`
	Start        string                   `yaml:"start"`
	End          string                   `yaml:"end"`
	HasMailbox   bool                     `yaml:"has_mailbox"`
	Permissions  *secretariat.Permissions `yaml:"permissions"`
	Redirections []Redirection            `yaml:"redirections"`

	passwordChangedAt time.Time
}

type Redirection struct {
	To       string `yaml:"to"`
	KeepCopy bool   `yaml:"keep_copy"`
	ID       string `yaml:"id"`
}

type fixture struct {
	Members []Member `yaml:"members"`
}

// Memory is a mutex guarded directory. Redirections are keyed by their
// source address, like a mail provider keeps them, so they outlive the
// member record they were created for.
type Memory struct {
	mu           sync.RWMutex
	members      map[string]*Member
	redirections map[string][]Redirection
	mailDomain   string
	now        func() time.Time
}

var (
	_ secretariat.DirectoryClient = (*Memory)(nil)
	_ secretariat.MailboxProvider = (*Memory)(nil)
)

type Option func(*Memory)

// WithClock overrides the time used to decide expiry
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewMemory(mailDomain string, members []Member, opts ...Option) *Memory {
	m := &Memory{
		members:      make(map[string]*Member, len(members)),
		redirections: make(map[string][]Redirection),
		mailDomain:   strings.TrimPrefix(mailDomain, "@"),
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	for i := range members {
		member := members[i]
		for _, r := range member.Redirections {
			if r.ID == "" {
				r.ID = uuid.NewString()
			}
			key := m.addressKey(member.Username)
			m.redirections[key] = append(m.redirections[key], r)
		}
		member.Redirections = nil
		m.members[member.Username] = &member
	}
	return m
}

// ParseFixture decodes a YAML member list
func ParseFixture(data []byte) ([]Member, error) {
	var f fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to parse directory fixture")
	}
	for i, member := range f.Members {
		if strings.TrimSpace(member.Username) == "" {
			return nil, errors.New("directory fixture member without username", errors.CategoryValidation).
				WithMetadata(map[string]any{"index": i})
		}
	}
	return f.Members, nil
}

// LoadFile builds a Memory directory from a fixture file
func LoadFile(path, mailDomain string, opts ...Option) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, "failed to read directory fixture").
			WithMetadata(map[string]any{"path": path})
	}
	members, err := ParseFixture(data)
	if err != nil {
		return nil, err
	}
	return NewMemory(mailDomain, members, opts...), nil
}

func (m *Memory) GetRecord(ctx context.Context, username string) (*secretariat.DirectoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[username]
	if !ok {
		return nil, secretariat.ErrRecordNotFound
	}
	return m.toRecord(member), nil
}

// Usernames lists known members in order
func (m *Memory) Usernames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.members))
	for name := range m.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Memory) toRecord(member *Member) *secretariat.DirectoryRecord {
	record := &secretariat.DirectoryRecord{
		Username:   member.Username,
		Exists:     true,
		HasMailbox: member.HasMailbox,
	}

	if end, err := time.Parse(secretariat.DateLayout, member.End); err == nil {
		record.EndDate = &end
		// the end day itself is still worked
		record.IsExpired = !m.now().Before(end.AddDate(0, 0, 1))
	}

	if member.Permissions != nil {
		record.Permissions = *member.Permissions
	} else {
		record.Permissions = secretariat.Permissions{
			CanCreateEmail:       !member.HasMailbox && !record.IsExpired,
			CanCreateRedirection: member.HasMailbox,
			CanChangePassword:    member.HasMailbox,
		}
	}

	from := member.Username + "@" + m.mailDomain
	for _, r := range m.redirections[m.addressKey(member.Username)] {
		record.Redirections = append(record.Redirections, secretariat.Redirection{
			ID:       r.ID,
			From:     from,
			To:       r.To,
			KeepCopy: r.KeepCopy,
		})
	}

	return record
}

func (m *Memory) CreateEmail(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[username]
	if !ok {
		return secretariat.ErrRecordNotFound
	}
	if member.HasMailbox {
		return errors.New("mailbox already exists", errors.CategoryConflict).
			WithCode(errors.CodeConflict).
			WithMetadata(map[string]any{"username": username})
	}
	member.HasMailbox = true
	member.passwordChangedAt = m.now()
	return nil
}

func (m *Memory) DeleteEmail(ctx context.Context, username string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[username]
	if !ok || !member.HasMailbox {
		return errors.New("mailbox not found", errors.CategoryNotFound).
			WithCode(errors.CodeNotFound).
			WithMetadata(map[string]any{"username": username})
	}
	member.HasMailbox = false
	delete(m.redirections, m.addressKey(username))
	return nil
}

func (m *Memory) CreateRedirection(ctx context.Context, from, to string, keepCopy bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := m.managedAddress(from)
	if err != nil {
		return err
	}
	local, _, _ := strings.Cut(from, "@")
	if member, ok := m.members[local]; !ok || !member.HasMailbox {
		return errors.New("mailbox not found", errors.CategoryNotFound).
			WithCode(errors.CodeNotFound).
			WithMetadata(map[string]any{"address": from})
	}
	for _, r := range m.redirections[key] {
		if strings.EqualFold(r.To, to) {
			return errors.New("redirection already exists", errors.CategoryConflict).
				WithCode(errors.CodeConflict).
				WithMetadata(map[string]any{"from": from, "to": to})
		}
	}
	m.redirections[key] = append(m.redirections[key], Redirection{
		ID:       uuid.NewString(),
		To:       to,
		KeepCopy: keepCopy,
	})
	return nil
}

func (m *Memory) DeleteRedirection(ctx context.Context, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// no member lookup: departed members keep redirections that must be removable
	key, err := m.managedAddress(from)
	if err != nil {
		return err
	}
	existing := m.redirections[key]
	for i, r := range existing {
		if strings.EqualFold(r.To, to) {
			existing = append(existing[:i:i], existing[i+1:]...)
			if len(existing) == 0 {
				delete(m.redirections, key)
			} else {
				m.redirections[key] = existing
			}
			return nil
		}
	}
	return errors.New("redirection not found", errors.CategoryNotFound).
		WithCode(errors.CodeNotFound).
		WithMetadata(map[string]any{"from": from, "to": to})
}

func (m *Memory) ChangePassword(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	member, ok := m.members[username]
	if !ok || !member.HasMailbox {
		return errors.New("mailbox not found", errors.CategoryNotFound).
			WithCode(errors.CodeNotFound).
			WithMetadata(map[string]any{"username": username})
	}
	member.passwordChangedAt = m.now()
	return nil
}

// PasswordChangedAt reports the last time a password was set for username
func (m *Memory) PasswordChangedAt(username string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, ok := m.members[username]
	if !ok || member.passwordChangedAt.IsZero() {
		return time.Time{}, false
	}
	return member.passwordChangedAt, true
}

// RemoveMember drops a member record and leaves its mailbox redirections in
// place, as happens when someone leaves the directory before their
// forwarding is cleaned up.
func (m *Memory) RemoveMember(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.members, username)
}

// managedAddress normalises an address on the managed domain, caller holds the lock
func (m *Memory) managedAddress(address string) (string, error) {
	_, domain, ok := strings.Cut(address, "@")
	if !ok || !strings.EqualFold(domain, m.mailDomain) {
		return "", errors.New("address is not managed by this directory", errors.CategoryBadInput).
			WithMetadata(map[string]any{"address": address})
	}
	return strings.ToLower(address), nil
}

func (m *Memory) addressKey(username string) string {
	return strings.ToLower(username + "@" + m.mailDomain)
}
