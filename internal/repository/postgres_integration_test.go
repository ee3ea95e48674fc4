//go:build integration

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hitoshi/cafesns/internal/database"
	"github.com/hitoshi/cafesns/internal/model"
)

// setupPostgres はPostgreSQLコンテナを起動し、マイグレーション適用済みのDBを返す。
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("cafesns_test"),
		postgres.WithUsername("cafesns"),
		postgres.WithPassword("cafesns"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	_, err = database.RunMigrations(connStr)
	require.NoError(t, err)

	db, err := database.Open(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func newUser(email, nickname string) *model.User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=8,t=1,p=1$c2FsdA$aGFzaA",
		Nickname:     nickname,
		Role:         model.RoleConsumer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestIntegration_UserRepo(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	repo := NewPostgresUserRepo(db)

	user := newUser("alice@example.com", "alice")
	require.NoError(t, repo.Create(ctx, user))

	t.Run("FindByID", func(t *testing.T) {
		got, err := repo.FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, got.Email)
		assert.Equal(t, model.RoleConsumer, got.Role)
	})

	t.Run("FindByEmail", func(t *testing.T) {
		got, err := repo.FindByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New().String())
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FindByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := repo.ExistsByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.ExistsByNickname(ctx, "bob")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		err := repo.Create(ctx, newUser("alice@example.com", "alice2"))
		require.ErrorIs(t, err, ErrDuplicate)
		constraint, _ := DuplicateConstraint(err)
		assert.Equal(t, ConstraintUserEmail, constraint)
	})

	t.Run("DuplicateNickname", func(t *testing.T) {
		err := repo.Create(ctx, newUser("alice2@example.com", "alice"))
		require.ErrorIs(t, err, ErrDuplicate)
		constraint, _ := DuplicateConstraint(err)
		assert.Equal(t, ConstraintUserNickname, constraint)
	})
}

func TestIntegration_CreateWithIdentity(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	identities := NewPostgresIdentityRepo(db)

	user := newUser("naver@example.com", "naveruser")
	user.PasswordHash = ""
	identity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       "naver",
		ProviderUserID: "naver-123",
		CreatedAt:      time.Now(),
	}
	require.NoError(t, users.CreateWithIdentity(ctx, user, identity))

	got, err := identities.FindBySubject(ctx, "naver", "naver-123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UserID)

	// identityの挿入に失敗した場合はユーザーも作成されない
	other := newUser("other@example.com", "other")
	dupIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         other.ID,
		Provider:       "naver",
		ProviderUserID: "naver-123",
		CreatedAt:      time.Now(),
	}
	err = users.CreateWithIdentity(ctx, other, dupIdentity)
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = users.FindByID(ctx, other.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIntegration_IdentityLink(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	identities := NewPostgresIdentityRepo(db)

	owner := newUser("owner@example.com", "owner")
	require.NoError(t, users.Create(ctx, owner))
	other := newUser("other@example.com", "other")
	require.NoError(t, users.Create(ctx, other))

	link := func(userID string) error {
		return identities.Link(ctx, &model.Identity{
			ID:             uuid.New().String(),
			UserID:         userID,
			Provider:       "naver",
			ProviderUserID: "naver-link",
			CreatedAt:      time.Now(),
		})
	}

	require.NoError(t, link(owner.ID))
	// 同じユーザーへの再紐付けは成功扱い
	require.NoError(t, link(owner.ID))

	err := link(other.ID)
	require.ErrorIs(t, err, ErrDuplicate)
	constraint, ok := DuplicateConstraint(err)
	assert.True(t, ok)
	assert.Equal(t, ConstraintIdentity, constraint)

	got, err := identities.FindBySubject(ctx, "naver", "naver-link")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, got.UserID)

	_, err = identities.FindBySubject(ctx, "naver", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIntegration_RefreshTokenRepo(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	tokens := NewPostgresRefreshTokenRepo(db)

	user := newUser("carol@example.com", "carol")
	require.NoError(t, users.Create(ctx, user))

	_, err := tokens.FindByUserID(ctx, user.ID)
	require.ErrorIs(t, err, ErrNotFound)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	require.NoError(t, tokens.Upsert(ctx, &model.RefreshToken{
		UserID: user.ID, TokenHash: fmt.Sprintf("%064d", 1), ExpiresAt: expires, CreatedAt: time.Now(),
	}))
	require.NoError(t, tokens.Upsert(ctx, &model.RefreshToken{
		UserID: user.ID, TokenHash: fmt.Sprintf("%064d", 2), ExpiresAt: expires, CreatedAt: time.Now(),
	}))

	got, err := tokens.FindByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%064d", 2), got.TokenHash)
	assert.True(t, expires.Equal(got.ExpiresAt))

	deleted, err := tokens.DeleteByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = tokens.DeleteByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestIntegration_RefreshTokenRepo_ConcurrentUpsertLeavesOneRow(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	tokens := NewPostgresRefreshTokenRepo(db)

	user := newUser("dave@example.com", "dave")
	require.NoError(t, users.Create(ctx, user))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- tokens.Upsert(ctx, &model.RefreshToken{
				UserID:    user.ID,
				TokenHash: fmt.Sprintf("%064d", i),
				ExpiresAt: time.Now().Add(time.Hour),
				CreatedAt: time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1`, user.ID,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestIntegration_RefreshTokenCascadesOnUserDelete(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()
	users := NewPostgresUserRepo(db)
	tokens := NewPostgresRefreshTokenRepo(db)

	user := newUser("erin@example.com", "erin")
	require.NoError(t, users.Create(ctx, user))
	require.NoError(t, tokens.Upsert(ctx, &model.RefreshToken{
		UserID: user.ID, TokenHash: fmt.Sprintf("%064d", 7), ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now(),
	}))

	_, err := db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	require.NoError(t, err)

	_, err = tokens.FindByUserID(ctx, user.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
