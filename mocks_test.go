package secretariat_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/betagouv/secretariat"
)

// MockConfig implements secretariat.Config
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) GetSigningKey() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetContextKey() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetSessionDuration() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockConfig) GetLoginTokenTTL() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockConfig) GetIssuer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetAudience() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockConfig) GetSecureCookie() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockConfig) GetMailDomain() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetBaseURL() string {
	args := m.Called()
	return args.String(0)
}

func newMockConfig() *MockConfig {
	mockConfig := new(MockConfig)
	mockConfig.On("GetSigningKey").Return("test-signing-key").Maybe()
	mockConfig.On("GetContextKey").Return("token").Maybe()
	mockConfig.On("GetSessionDuration").Return(time.Hour).Maybe()
	mockConfig.On("GetLoginTokenTTL").Return(time.Hour).Maybe()
	mockConfig.On("GetIssuer").Return("test-issuer").Maybe()
	mockConfig.On("GetAudience").Return([]string{"test:audience"}).Maybe()
	mockConfig.On("GetSecureCookie").Return(false).Maybe()
	mockConfig.On("GetMailDomain").Return("example.org").Maybe()
	mockConfig.On("GetBaseURL").Return("https://secretariat.example.org").Maybe()
	return mockConfig
}

// MockDirectory implements secretariat.DirectoryClient
type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) GetRecord(ctx context.Context, username string) (*secretariat.DirectoryRecord, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretariat.DirectoryRecord), args.Error(1)
}

// MockMailboxes implements secretariat.MailboxProvider
type MockMailboxes struct {
	mock.Mock
}

func (m *MockMailboxes) CreateEmail(ctx context.Context, username, password string) error {
	return m.Called(ctx, username, password).Error(0)
}

func (m *MockMailboxes) DeleteEmail(ctx context.Context, username string) error {
	return m.Called(ctx, username).Error(0)
}

func (m *MockMailboxes) CreateRedirection(ctx context.Context, from, to string, keepCopy bool) error {
	return m.Called(ctx, from, to, keepCopy).Error(0)
}

func (m *MockMailboxes) DeleteRedirection(ctx context.Context, from, to string) error {
	return m.Called(ctx, from, to).Error(0)
}

func (m *MockMailboxes) ChangePassword(ctx context.Context, username, password string) error {
	return m.Called(ctx, username, password).Error(0)
}

// MockMailer implements secretariat.Mailer
type MockMailer struct {
	mock.Mock
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

// MockNotifier implements secretariat.NotificationChannel
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Post(ctx context.Context, message string) error {
	return m.Called(ctx, message).Error(0)
}

// MockCodeHost implements secretariat.CodeHostClient
type MockCodeHost struct {
	mock.Mock
}

func (m *MockCodeHost) ProposeFileChange(ctx context.Context, path string, edits []secretariat.FileEdit, title string) (*secretariat.PullRequestRef, error) {
	args := m.Called(ctx, path, edits, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*secretariat.PullRequestRef), args.Error(1)
}

type capturingSink struct {
	mu     sync.Mutex
	events []secretariat.ActivityEvent
}

func (c *capturingSink) Record(ctx context.Context, evt secretariat.ActivityEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *capturingSink) types() []secretariat.ActivityEventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]secretariat.ActivityEventType, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType)
	}
	return out
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a new database
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, secretariat.Migrate(context.Background(), sqldb, "sqlite3"))
	return db
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}
