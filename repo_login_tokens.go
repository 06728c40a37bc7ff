package secretariat

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LoginTokenStore persists login tokens. Consume must be atomic: of all
// callers consuming the same token only one may receive the row.
type LoginTokenStore interface {
	Create(ctx context.Context, token *LoginToken) (*LoginToken, error)
	GetByToken(ctx context.Context, token string) (*LoginToken, error)
	Consume(ctx context.Context, token string) (*LoginToken, error)
	FindByUsername(ctx context.Context, username string) ([]*LoginToken, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type loginTokens struct {
	repo repository.Repository[*LoginToken]
	db   *bun.DB
}

var _ LoginTokenStore = (*loginTokens)(nil)

// NewLoginTokensRepository returns a SQL backed LoginTokenStore
func NewLoginTokensRepository(db *bun.DB) LoginTokenStore {
	handlers := repository.ModelHandlers[*LoginToken]{
		NewRecord: func() *LoginToken {
			return &LoginToken{}
		},
		GetID: func(record *LoginToken) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *LoginToken, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "token"
		},
	}

	return &loginTokens{
		repo: repository.NewRepository(db, handlers),
		db:   db,
	}
}

func (s *loginTokens) Create(ctx context.Context, token *LoginToken) (*LoginToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	record, err := s.repo.Create(ctx, token)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to store login token")
	}
	return record, nil
}

func (s *loginTokens) GetByToken(ctx context.Context, token string) (*LoginToken, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidToken
	}

	record, err := s.repo.GetByIdentifier(ctx, token)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve login token")
	}
	return record, nil
}

// Consume reads the row and deletes it in the same transaction. The delete
// only counts when it removed the row, a concurrent consumer that lost the
// race sees zero affected rows and gets ErrInvalidToken.
func (s *loginTokens) Consume(ctx context.Context, token string) (*LoginToken, error) {
	record := &LoginToken{}

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.token = ?", token).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if err == sql.ErrNoRows {
				return ErrInvalidToken
			}
			return errors.Wrap(err, errors.CategoryInternal, "failed to read login token")
		}

		res, err := tx.NewDelete().
			Model((*LoginToken)(nil)).
			Where("token = ?", token).
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to delete login token")
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to delete login token")
		}
		if affected != 1 {
			return ErrInvalidToken
		}
		return nil
	})

	if err != nil {
		var richErr *errors.Error
		if errors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "login token transaction failed")
	}

	return record, nil
}

func (s *loginTokens) FindByUsername(ctx context.Context, username string) ([]*LoginToken, error) {
	records := []*LoginToken{}
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.username = ?", username).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list login tokens")
	}
	return records, nil
}

// DeleteExpired compares expirations in Go, sqlite keeps timestamps as text
// and ordering them in SQL is not reliable across offsets.
func (s *loginTokens) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	records := []*LoginToken{}
	err := s.db.NewSelect().
		Model(&records).
		Column("id", "expires_at").
		Scan(ctx)
	if err != nil && err != sql.ErrNoRows {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to list login tokens")
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		if r.IsExpired(now) {
			ids = append(ids, r.ID)
		}
	}

	if len(ids) == 0 {
		return 0, nil
	}

	res, err := s.db.NewDelete().
		Model((*LoginToken)(nil)).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to purge login tokens")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to purge login tokens")
	}
	return int(affected), nil
}
