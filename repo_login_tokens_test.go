package secretariat_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betagouv/secretariat"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) secretariat.LoginTokenStore
}

func loginTokenStores() []storeFactory {
	return []storeFactory{
		{
			name: "sql",
			new: func(t *testing.T) secretariat.LoginTokenStore {
				return secretariat.NewRepositoryManager(newTestDB(t)).LoginTokens()
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) secretariat.LoginTokenStore {
				_, client := newTestRedis(t)
				return secretariat.NewRedisLoginTokens(client, "test")
			},
		},
	}
}

// redis applies expirations against the wall clock
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

func newLoginToken(token, username string, expiresAt time.Time) *secretariat.LoginToken {
	return &secretariat.LoginToken{
		Token:     token,
		Username:  username,
		Email:     username + "@example.org",
		ExpiresAt: expiresAt,
		CreatedAt: expiresAt.Add(-time.Hour),
	}
}

func TestLoginTokenStoreCreateAndGet(t *testing.T) {
	for _, factory := range loginTokenStores() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)
			expiresAt := storeNow().Add(time.Hour)

			created, err := store.Create(ctx, newLoginToken("tok-1", "membre.actif", expiresAt))
			require.NoError(t, err)
			assert.NotEmpty(t, created.ID)

			found, err := store.GetByToken(ctx, "tok-1")
			require.NoError(t, err)
			assert.Equal(t, created.ID, found.ID)
			assert.Equal(t, "membre.actif", found.Username)
			assert.Equal(t, "membre.actif@example.org", found.Email)
			assert.True(t, expiresAt.Equal(found.ExpiresAt), "expires_at %v != %v", expiresAt, found.ExpiresAt)

			_, err = store.GetByToken(ctx, "unknown")
			assert.True(t, secretariat.IsInvalidToken(err))

			_, err = store.GetByToken(ctx, "")
			assert.True(t, secretariat.IsInvalidToken(err))
		})
	}
}

func TestLoginTokenStoreConsumeIsSingleUse(t *testing.T) {
	for _, factory := range loginTokenStores() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)

			_, err := store.Create(ctx, newLoginToken("tok-1", "membre.actif", storeNow().Add(time.Hour)))
			require.NoError(t, err)

			consumed, err := store.Consume(ctx, "tok-1")
			require.NoError(t, err)
			assert.Equal(t, "membre.actif", consumed.Username)

			_, err = store.Consume(ctx, "tok-1")
			assert.True(t, secretariat.IsInvalidToken(err))

			_, err = store.GetByToken(ctx, "tok-1")
			assert.True(t, secretariat.IsInvalidToken(err))

			tokens, err := store.FindByUsername(ctx, "membre.actif")
			require.NoError(t, err)
			assert.Empty(t, tokens)
		})
	}
}

func TestLoginTokenStoreConcurrentConsume(t *testing.T) {
	for _, factory := range loginTokenStores() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)

			_, err := store.Create(ctx, newLoginToken("tok-race", "membre.actif", storeNow().Add(time.Hour)))
			require.NoError(t, err)

			const workers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				invalid   int
			)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Consume(ctx, "tok-race")
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						successes++
					} else if secretariat.IsInvalidToken(err) {
						invalid++
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, successes)
			assert.Equal(t, workers-1, invalid)
		})
	}
}

func TestLoginTokenStoreFindByUsername(t *testing.T) {
	for _, factory := range loginTokenStores() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)
			expiresAt := storeNow().Add(time.Hour)

			for _, tok := range []*secretariat.LoginToken{
				newLoginToken("tok-a", "membre.actif", expiresAt),
				newLoginToken("tok-b", "membre.actif", expiresAt),
				newLoginToken("tok-c", "membre.nouveau", expiresAt),
			} {
				_, err := store.Create(ctx, tok)
				require.NoError(t, err)
			}

			tokens, err := store.FindByUsername(ctx, "membre.actif")
			require.NoError(t, err)
			require.Len(t, tokens, 2)

			values := []string{tokens[0].Token, tokens[1].Token}
			assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, values)
		})
	}
}

func TestLoginTokenStoreDeleteExpired(t *testing.T) {
	for _, factory := range loginTokenStores() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)
			now := storeNow()

			for _, tok := range []*secretariat.LoginToken{
				newLoginToken("tok-past", "membre.actif", now.Add(-time.Minute)),
				newLoginToken("tok-now", "membre.actif", now),
				newLoginToken("tok-future", "membre.actif", now.Add(time.Minute)),
			} {
				_, err := store.Create(ctx, tok)
				require.NoError(t, err)
			}

			deleted, err := store.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 2, deleted)

			_, err = store.GetByToken(ctx, "tok-past")
			assert.True(t, secretariat.IsInvalidToken(err))
			_, err = store.GetByToken(ctx, "tok-now")
			assert.True(t, secretariat.IsInvalidToken(err))

			remaining, err := store.GetByToken(ctx, "tok-future")
			require.NoError(t, err)
			assert.Equal(t, "membre.actif", remaining.Username)

			deleted, err = store.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Zero(t, deleted)
		})
	}
}

func TestRedisLoginTokensKeepExpiredWithinGrace(t *testing.T) {
	ctx := context.Background()
	m, client := newTestRedis(t)
	store := secretariat.NewRedisLoginTokens(client, "test",
		secretariat.WithRedisExpiredGrace(time.Hour),
	)

	expiresAt := time.Now().Add(time.Minute)
	_, err := store.Create(ctx, newLoginToken("tok-grace", "membre.actif", expiresAt))
	require.NoError(t, err)

	assert.True(t, m.Exists("test:token:tok-grace"))
	assert.True(t, m.Exists("test:user:membre.actif"))

	ttl := m.TTL("test:token:tok-grace")
	assert.Greater(t, ttl, time.Hour)

	m.FastForward(2 * time.Hour)
	assert.False(t, m.Exists("test:token:tok-grace"))

	// the index entry outlives the hash and is cleaned on read
	tokens, err := store.FindByUsername(ctx, "membre.actif")
	require.NoError(t, err)
	assert.Empty(t, tokens)
	members, err := m.Members("test:user:membre.actif")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestRepositoryManagerValidate(t *testing.T) {
	repo := secretariat.NewRepositoryManager(newTestDB(t))
	require.NoError(t, repo.Validate())
	require.NotPanics(t, repo.MustValidate)
	require.NotNil(t, repo.LoginTokens())
}
