package secretariat_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/betagouv/secretariat"
	"github.com/betagouv/secretariat/directory"
	"github.com/betagouv/secretariat/notify"
)

const (
	testBaseURL    = "https://secretariat.example.org"
	testMailDomain = "example.org"
)

const membersYAML = `
members:
  - username: membre.actif
    start: 2020-01-01
    end: 2099-12-31
    has_mailbox: true
    redirections:
      - to: perso@example.com
  - username: membre.nouveau
    start: 2024-01-01
  - username: membre.expire
    start: 2018-01-01
    end: 2024-05-31
    has_mailbox: true
    redirections:
      - to: ancien@example.com
        keep_copy: true
  - username: membre.parti
    start: 2018-01-01
    end: 2024-01-31
`

type actionsFixture struct {
	actions  *secretariat.AccountActions
	dir      *directory.Memory
	mailer   *notify.LogMailer
	notifier *MockNotifier
	codeHost *notify.LogCodeHost
	sink     *capturingSink
}

func newTestDirectory(t *testing.T) *directory.Memory {
	t.Helper()
	members, err := directory.ParseFixture([]byte(membersYAML))
	require.NoError(t, err)
	return directory.NewMemory(testMailDomain, members, directory.WithClock(fixedNow))
}

func newActionsFixture(t *testing.T) *actionsFixture {
	t.Helper()

	f := &actionsFixture{
		dir:      newTestDirectory(t),
		mailer:   notify.NewLogMailer(nil),
		notifier: new(MockNotifier),
		codeHost: notify.NewLogCodeHost("betagouv/beta.gouv.fr", nil),
		sink:     &capturingSink{},
	}
	f.notifier.On("Post", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.actions = secretariat.NewAccountActions(f.dir, f.dir, f.mailer, f.notifier, f.codeHost,
		secretariat.WithMailDomain(testMailDomain),
		secretariat.WithBaseURL(testBaseURL+"/"),
		secretariat.WithActionsActivitySink(f.sink),
	)
	return f
}

func request(acting, target string) secretariat.AccountActionRequest {
	return secretariat.AccountActionRequest{ActingUsername: acting, TargetUsername: target}
}

func TestCreateEmailForNewMember(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	outcome, err := f.actions.CreateEmail(ctx, secretariat.CreateEmailMessage{
		AccountActionRequest: request("membre.actif", "membre.nouveau"),
		Payload:              secretariat.CreateEmailPayload{ToEmail: "nouveau@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, secretariat.ActionCreateEmail, outcome.Kind)
	assert.Equal(t, "The email account has been created.", outcome.Message)
	assert.Equal(t, "/community/membre.nouveau", outcome.Redirect)

	record, err := f.dir.GetRecord(ctx, "membre.nouveau")
	require.NoError(t, err)
	assert.True(t, record.HasMailbox)

	sent := f.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "nouveau@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "membre.nouveau@example.org")
	assert.Contains(t, sent[0].Body, "Password: ")

	f.notifier.AssertCalled(t, "Post", mock.Anything,
		"At the request of membre.actif on <https://secretariat.example.org>, I am creating an email account for membre.nouveau")
	assert.Equal(t, []secretariat.ActivityEventType{secretariat.ActivityEventActionSucceeded}, f.sink.types())
}

func TestCreateEmailDenied(t *testing.T) {
	tests := []struct {
		name   string
		req    secretariat.AccountActionRequest
		reason string
	}{
		{"expired target", request("membre.parti", "membre.parti"), secretariat.ReasonMemberExpired},
		{"unknown target", request("membre.actif", "inconnu"), secretariat.ReasonUnknownMember},
		{"target already has a mailbox", request("membre.actif", "membre.actif"), secretariat.ReasonCannotCreateEmail},
		{"expired acting member", request("membre.expire", "membre.nouveau"), secretariat.ReasonActingExpired},
		{"unknown acting member", request("inconnu", "membre.nouveau"), secretariat.ReasonActingMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newActionsFixture(t)

			outcome, err := f.actions.CreateEmail(context.Background(), secretariat.CreateEmailMessage{
				AccountActionRequest: tt.req,
				Payload:              secretariat.CreateEmailPayload{ToEmail: "x@example.com"},
			})
			require.Error(t, err)
			assert.Nil(t, outcome)
			assert.True(t, secretariat.IsForbidden(err))
			assert.Equal(t, tt.reason, errorMessage(err))
			assert.Empty(t, f.mailer.Sent())
			f.notifier.AssertNotCalled(t, "Post", mock.Anything, mock.Anything)
			assert.Equal(t, []secretariat.ActivityEventType{secretariat.ActivityEventActionDenied}, f.sink.types())
		})
	}
}

func TestCreateEmailInvalidPayload(t *testing.T) {
	f := newActionsFixture(t)

	_, err := f.actions.CreateEmail(context.Background(), secretariat.CreateEmailMessage{
		AccountActionRequest: request("membre.nouveau", "membre.nouveau"),
		Payload:              secretariat.CreateEmailPayload{ToEmail: "not-an-email"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsInvalidInput(err))

	record, err := f.dir.GetRecord(context.Background(), "membre.nouveau")
	require.NoError(t, err)
	assert.False(t, record.HasMailbox)
}

func TestCreateEmailCollaboratorFailure(t *testing.T) {
	dir := new(MockDirectory)
	mailboxes := new(MockMailboxes)
	mailer := new(MockMailer)
	notifier := new(MockNotifier)
	sink := &capturingSink{}

	target := liveRecord("membre.nouveau", secretariat.Permissions{CanCreateEmail: true})
	dir.On("GetRecord", mock.Anything, "membre.nouveau").Return(target, nil)
	notifier.On("Post", mock.Anything, mock.Anything).Return(nil)
	mailboxes.On("CreateEmail", mock.Anything, "membre.nouveau", mock.AnythingOfType("string")).
		Return(errors.New("provider unavailable"))

	actions := secretariat.NewAccountActions(dir, mailboxes, mailer, notifier, new(MockCodeHost),
		secretariat.WithMailDomain(testMailDomain),
		secretariat.WithActionsActivitySink(sink),
	)

	_, err := actions.CreateEmail(context.Background(), secretariat.CreateEmailMessage{
		AccountActionRequest: request("membre.nouveau", "membre.nouveau"),
		Payload:              secretariat.CreateEmailPayload{ToEmail: "nouveau@example.com"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsCollaboratorFailure(err))

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "mailbox.create_email", richErr.Metadata["step"])

	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, []secretariat.ActivityEventType{secretariat.ActivityEventActionFailed}, sink.types())
}

func TestCreateEmailCredentialsMailFailure(t *testing.T) {
	dir := new(MockDirectory)
	mailboxes := new(MockMailboxes)
	mailer := new(MockMailer)
	notifier := new(MockNotifier)

	dir.On("GetRecord", mock.Anything, "membre.nouveau").
		Return(liveRecord("membre.nouveau", secretariat.Permissions{CanCreateEmail: true}), nil)
	notifier.On("Post", mock.Anything, mock.Anything).Return(nil)
	mailboxes.On("CreateEmail", mock.Anything, "membre.nouveau", mock.AnythingOfType("string")).Return(nil)
	mailer.On("Send", mock.Anything, "nouveau@example.com", mock.Anything, mock.Anything).
		Return(errors.New("smtp down"))

	actions := secretariat.NewAccountActions(dir, mailboxes, mailer, notifier, new(MockCodeHost),
		secretariat.WithMailDomain(testMailDomain),
	)

	_, err := actions.CreateEmail(context.Background(), secretariat.CreateEmailMessage{
		AccountActionRequest: request("membre.nouveau", "membre.nouveau"),
		Payload:              secretariat.CreateEmailPayload{ToEmail: "nouveau@example.com"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsCollaboratorFailure(err))
	mailboxes.AssertExpectations(t)
}

func TestGeneratedPasswordFromSource(t *testing.T) {
	dir := new(MockDirectory)
	mailboxes := new(MockMailboxes)
	mailer := new(MockMailer)
	notifier := new(MockNotifier)

	dir.On("GetRecord", mock.Anything, "membre.nouveau").
		Return(liveRecord("membre.nouveau", secretariat.Permissions{CanCreateEmail: true}), nil)
	notifier.On("Post", mock.Anything, mock.Anything).Return(nil)
	// 16 zero bytes
	mailboxes.On("CreateEmail", mock.Anything, "membre.nouveau", "AAAAAAAAAAAAAAAAAAAAAA").Return(nil)
	mailer.On("Send", mock.Anything, "nouveau@example.com", mock.Anything, mock.MatchedBy(func(body string) bool {
		return strings.Contains(body, "AAAAAAAAAAAAAAAAAAAAAA")
	})).Return(nil)

	actions := secretariat.NewAccountActions(dir, mailboxes, mailer, notifier, new(MockCodeHost),
		secretariat.WithMailDomain(testMailDomain),
		secretariat.WithPasswordSource(func(b []byte) (int, error) {
			for i := range b {
				b[i] = 0
			}
			return len(b), nil
		}),
	)

	_, err := actions.CreateEmail(context.Background(), secretariat.CreateEmailMessage{
		AccountActionRequest: request("membre.nouveau", "membre.nouveau"),
		Payload:              secretariat.CreateEmailPayload{ToEmail: "nouveau@example.com"},
	})
	require.NoError(t, err)
	mailboxes.AssertExpectations(t)
	mailer.AssertExpectations(t)
}

func TestNotificationFailureIsNotFatal(t *testing.T) {
	f := newActionsFixture(t)
	failing := new(MockNotifier)
	failing.On("Post", mock.Anything, mock.Anything).Return(errors.New("slack down"))

	actions := secretariat.NewAccountActions(f.dir, f.dir, f.mailer, failing, f.codeHost,
		secretariat.WithMailDomain(testMailDomain),
	)

	outcome, err := actions.CreateRedirection(context.Background(), secretariat.CreateRedirectionMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
		Payload:              secretariat.CreateRedirectionPayload{ToEmail: "autre@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The redirection has been created.", outcome.Message)
	failing.AssertNumberOfCalls(t, "Post", 1)

	record, err := f.dir.GetRecord(context.Background(), "membre.actif")
	require.NoError(t, err)
	assert.Len(t, record.Redirections, 2)
}

func TestDirectoryFailure(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetRecord", mock.Anything, "membre.actif").Return(nil, errors.New("directory unreachable"))

	actions := secretariat.NewAccountActions(dir, new(MockMailboxes), new(MockMailer), new(MockNotifier), new(MockCodeHost))

	_, err := actions.ChangePassword(context.Background(), secretariat.ChangePasswordMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
		Payload:              secretariat.ChangePasswordPayload{NewPassword: "abc123456"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsCollaboratorFailure(err))
}

func TestActionCancelledContext(t *testing.T) {
	f := newActionsFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.actions.DeleteEmail(ctx, secretariat.DeleteEmailMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
	})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, goerrors.CategoryOperation, richErr.Category)

	record, err := f.dir.GetRecord(context.Background(), "membre.actif")
	require.NoError(t, err)
	assert.True(t, record.HasMailbox)
}

func TestDeleteEmailDelegated(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	_, err := f.actions.DeleteEmail(ctx, secretariat.DeleteEmailMessage{
		AccountActionRequest: request("membre.nouveau", "membre.actif"),
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsForbidden(err))
	assert.Equal(t, secretariat.ReasonDeleteRequiresExpiry, errorMessage(err))

	record, err := f.dir.GetRecord(ctx, "membre.actif")
	require.NoError(t, err)
	assert.True(t, record.HasMailbox)

	outcome, err := f.actions.DeleteEmail(ctx, secretariat.DeleteEmailMessage{
		AccountActionRequest: request("membre.actif", "membre.expire"),
	})
	require.NoError(t, err)
	assert.False(t, outcome.SessionRevoked)
	assert.Equal(t, "The email account of membre.expire has been deleted.", outcome.Message)
	assert.Equal(t, "/community/membre.expire", outcome.Redirect)

	record, err = f.dir.GetRecord(ctx, "membre.expire")
	require.NoError(t, err)
	assert.False(t, record.HasMailbox)
	assert.Empty(t, record.Redirections)

	f.notifier.AssertCalled(t, "Post", mock.Anything,
		"Deleting the email account of membre.expire (at the request of membre.actif)")
}

func TestDeleteEmailSelfRevokesSession(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	outcome, err := f.actions.DeleteEmail(ctx, secretariat.DeleteEmailMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
	})
	require.NoError(t, err)
	assert.True(t, outcome.SessionRevoked)
	assert.Equal(t, secretariat.LoginPath, outcome.Redirect)
	assert.Equal(t, "Your email account has been deleted.", outcome.Message)

	record, err := f.dir.GetRecord(ctx, "membre.actif")
	require.NoError(t, err)
	assert.False(t, record.HasMailbox)
	assert.Empty(t, record.Redirections)
}

func TestDeleteEmailStopsOnRedirectionFailure(t *testing.T) {
	dir := new(MockDirectory)
	mailboxes := new(MockMailboxes)
	notifier := new(MockNotifier)

	target := expiredRecord("membre.expire")
	target.Redirections = []secretariat.Redirection{{To: "ancien@example.com"}}
	dir.On("GetRecord", mock.Anything, "membre.expire").Return(target, nil)
	notifier.On("Post", mock.Anything, mock.Anything).Return(nil)
	mailboxes.On("DeleteRedirection", mock.Anything, "membre.expire@example.org", "ancien@example.com").
		Return(errors.New("provider unavailable"))

	actions := secretariat.NewAccountActions(dir, mailboxes, new(MockMailer), notifier, new(MockCodeHost),
		secretariat.WithMailDomain(testMailDomain),
	)

	_, err := actions.DeleteEmail(context.Background(), secretariat.DeleteEmailMessage{
		AccountActionRequest: request("membre.actif", "membre.expire"),
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsCollaboratorFailure(err))
	mailboxes.AssertNotCalled(t, "DeleteEmail", mock.Anything, mock.Anything)
}

func TestChangePassword(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	_, err := f.actions.ChangePassword(ctx, secretariat.ChangePasswordMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
		Payload:              secretariat.ChangePasswordPayload{NewPassword: "abc12345"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsInvalidInput(err))
	_, changed := f.dir.PasswordChangedAt("membre.actif")
	assert.False(t, changed)

	outcome, err := f.actions.ChangePassword(ctx, secretariat.ChangePasswordMessage{
		AccountActionRequest: request("membre.nouveau", "membre.actif"),
		Payload:              secretariat.ChangePasswordPayload{NewPassword: "abc123456"},
	})
	require.NoError(t, err)
	assert.Equal(t, "The password has been changed.", outcome.Message)

	changedAt, ok := f.dir.PasswordChangedAt("membre.actif")
	require.True(t, ok)
	assert.False(t, changedAt.IsZero())

	_, err = f.actions.ChangePassword(ctx, secretariat.ChangePasswordMessage{
		AccountActionRequest: request("membre.nouveau", "membre.nouveau"),
		Payload:              secretariat.ChangePasswordPayload{NewPassword: "abc123456"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsForbidden(err))
}

func TestDeleteRedirection(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	_, err := f.actions.DeleteRedirection(ctx, secretariat.DeleteRedirectionMessage{
		AccountActionRequest: request("membre.nouveau", "membre.actif"),
		ToEmail:              "perso@example.com",
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsForbidden(err))

	_, err = f.actions.DeleteRedirection(ctx, secretariat.DeleteRedirectionMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
		ToEmail:              " ",
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsInvalidInput(err))

	outcome, err := f.actions.DeleteRedirection(ctx, secretariat.DeleteRedirectionMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
		ToEmail:              "perso@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "The redirection has been deleted.", outcome.Message)

	record, err := f.dir.GetRecord(ctx, "membre.actif")
	require.NoError(t, err)
	assert.Empty(t, record.Redirections)
}

func TestRequestEndDateChange(t *testing.T) {
	f := newActionsFixture(t)
	ctx := context.Background()

	_, err := f.actions.RequestEndDateChange(ctx, secretariat.RequestEndDateChangeMessage{
		AccountActionRequest: request("membre.actif", "membre.nouveau"),
		Payload:              secretariat.EndDatePayload{Start: "2024-01-01", NewEnd: "2023-06-01"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsInvalidInput(err))
	assert.Empty(t, f.codeHost.Proposed())

	_, err = f.actions.RequestEndDateChange(ctx, secretariat.RequestEndDateChangeMessage{
		AccountActionRequest: request("membre.actif", "inconnu"),
		Payload:              secretariat.EndDatePayload{Start: "2024-01-01", NewEnd: "2024-12-31"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsForbidden(err))

	outcome, err := f.actions.RequestEndDateChange(ctx, secretariat.RequestEndDateChangeMessage{
		AccountActionRequest: request("membre.actif", "membre.expire"),
		Payload:              secretariat.EndDatePayload{Start: "2018-01-01", End: "2024-05-31", NewEnd: "2024-12-31"},
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.PullRequest)
	assert.Equal(t, "https://github.com/betagouv/beta.gouv.fr/pull/1", outcome.PullRequest.URL)
	assert.Equal(t,
		"Pull request to update the profile of membre.expire opened at https://github.com/betagouv/beta.gouv.fr/pull/1. Once merged the profile will be updated.",
		outcome.Message,
	)

	proposed := f.codeHost.Proposed()
	require.Len(t, proposed, 1)
	assert.Equal(t, "content/_authors/membre.expire.md", proposed[0].Path)
	assert.Equal(t, "Update the end date of membre.expire", proposed[0].Title)
	assert.Equal(t, []secretariat.FileEdit{{Key: "end", Old: "2024-05-31", New: "2024-12-31"}}, proposed[0].Edits)
}

func TestActionTimeout(t *testing.T) {
	dir := new(MockDirectory)
	dir.On("GetRecord", mock.Anything, "membre.actif").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	actions := secretariat.NewAccountActions(dir, new(MockMailboxes), new(MockMailer), new(MockNotifier), new(MockCodeHost),
		secretariat.WithActionTimeout(20*time.Millisecond),
	)

	_, err := actions.RequestEndDateChange(context.Background(), secretariat.RequestEndDateChangeMessage{
		AccountActionRequest: request("membre.actif", "membre.actif"),
		Payload:              secretariat.EndDatePayload{NewEnd: "2024-12-31"},
	})
	require.Error(t, err)
	assert.True(t, secretariat.IsCollaboratorFailure(err))
}

func errorMessage(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Message
	}
	return err.Error()
}
