package directory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betagouv/secretariat"
	"github.com/betagouv/secretariat/directory"
)

const fixtureYAML = `
members:
  - username: membre.actif
    start: 2020-01-01
    end: 2099-12-31
    has_mailbox: true
    redirections:
      - to: perso@example.com
        keep_copy: true
  - username: membre.nouveau
    start: 2024-01-01
  - username: membre.expire
    start: 2018-01-01
    end: 2024-05-31
    has_mailbox: true
`

func fixedClock() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newDirectory(t *testing.T) *directory.Memory {
	t.Helper()
	members, err := directory.ParseFixture([]byte(fixtureYAML))
	require.NoError(t, err)
	return directory.NewMemory("example.org", members, directory.WithClock(fixedClock))
}

func TestGetRecordDerivesExpiryAndPermissions(t *testing.T) {
	dir := newDirectory(t)
	ctx := context.Background()

	active, err := dir.GetRecord(ctx, "membre.actif")
	require.NoError(t, err)
	assert.True(t, active.Exists)
	assert.False(t, active.IsExpired)
	assert.False(t, active.Permissions.CanCreateEmail)
	assert.True(t, active.Permissions.CanCreateRedirection)
	assert.True(t, active.Permissions.CanChangePassword)
	require.Len(t, active.Redirections, 1)
	assert.Equal(t, "membre.actif@example.org", active.Redirections[0].From)
	assert.True(t, active.Redirections[0].KeepCopy)
	assert.NotEmpty(t, active.Redirections[0].ID)

	fresh, err := dir.GetRecord(ctx, "membre.nouveau")
	require.NoError(t, err)
	assert.False(t, fresh.IsExpired)
	assert.True(t, fresh.Permissions.CanCreateEmail)
	assert.Nil(t, fresh.EndDate)

	expired, err := dir.GetRecord(ctx, "membre.expire")
	require.NoError(t, err)
	assert.True(t, expired.IsExpired)
	assert.False(t, expired.Permissions.CanCreateEmail)
}

func TestGetRecordUnknownMember(t *testing.T) {
	dir := newDirectory(t)

	_, err := dir.GetRecord(context.Background(), "inconnu")
	require.Error(t, err)
	assert.True(t, secretariat.IsRecordNotFound(err))
}

func TestMailboxLifecycle(t *testing.T) {
	dir := newDirectory(t)
	ctx := context.Background()

	require.NoError(t, dir.CreateEmail(ctx, "membre.nouveau", "secret-password"))
	assert.Error(t, dir.CreateEmail(ctx, "membre.nouveau", "secret-password"))

	require.NoError(t, dir.CreateRedirection(ctx, "membre.nouveau@example.org", "ailleurs@example.com", false))
	assert.Error(t, dir.CreateRedirection(ctx, "membre.nouveau@example.org", "ailleurs@example.com", false))
	assert.Error(t, dir.CreateRedirection(ctx, "membre.nouveau@other.org", "ailleurs@example.com", false))

	record, err := dir.GetRecord(ctx, "membre.nouveau")
	require.NoError(t, err)
	assert.True(t, record.HasMailbox)
	assert.Len(t, record.Redirections, 1)

	require.NoError(t, dir.ChangePassword(ctx, "membre.nouveau", "another-password"))
	changedAt, ok := dir.PasswordChangedAt("membre.nouveau")
	assert.True(t, ok)
	assert.Equal(t, fixedClock(), changedAt)

	require.NoError(t, dir.DeleteRedirection(ctx, "membre.nouveau@example.org", "ailleurs@example.com"))
	assert.Error(t, dir.DeleteRedirection(ctx, "membre.nouveau@example.org", "ailleurs@example.com"))

	require.NoError(t, dir.DeleteEmail(ctx, "membre.nouveau"))
	assert.Error(t, dir.DeleteEmail(ctx, "membre.nouveau"))
	assert.Error(t, dir.ChangePassword(ctx, "membre.nouveau", "another-password"))
}

func TestParseFixtureRejectsMissingUsername(t *testing.T) {
	_, err := directory.ParseFixture([]byte("members:\n  - start: 2020-01-01\n"))
	assert.Error(t, err)

	_, err = directory.ParseFixture([]byte("members: ["))
	assert.Error(t, err)
}

func TestUsernamesSorted(t *testing.T) {
	dir := newDirectory(t)
	assert.Equal(t, []string{"membre.actif", "membre.expire", "membre.nouveau"}, dir.Usernames())
}

func TestDeleteRedirectionAfterMemberRemoved(t *testing.T) {
	dir := newDirectory(t)
	ctx := context.Background()

	dir.RemoveMember("membre.actif")
	_, err := dir.GetRecord(ctx, "membre.actif")
	require.ErrorIs(t, err, secretariat.ErrRecordNotFound)

	require.NoError(t, dir.DeleteRedirection(ctx, "Membre.Actif@example.org", "perso@example.com"))
	assert.Error(t, dir.DeleteRedirection(ctx, "membre.actif@example.org", "perso@example.com"))
	assert.Error(t, dir.DeleteRedirection(ctx, "membre.actif@other.org", "perso@example.com"))
}

func TestCreateRedirectionRequiresMailbox(t *testing.T) {
	dir := newDirectory(t)
	ctx := context.Background()

	assert.Error(t, dir.CreateRedirection(ctx, "membre.nouveau@example.org", "ailleurs@example.com", false))
	assert.Error(t, dir.CreateRedirection(ctx, "inconnu@example.org", "ailleurs@example.com", false))
}
