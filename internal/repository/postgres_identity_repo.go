package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/cafesns/internal/model"
)

// PostgresIdentityRepo は外部IdPの主体(provider, subject)とローカルユーザーの対応をPostgreSQLに保存する。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindBySubject はIdP上のユーザーIDに紐付くidentityを返す。
func (r *PostgresIdentityRepo) FindBySubject(ctx context.Context, provider, subject string) (*model.Identity, error) {
	var identity model.Identity
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities
		 WHERE provider = $1 AND provider_user_id = $2`,
		provider, subject,
	).Scan(&identity.ID, &identity.UserID, &identity.Provider, &identity.ProviderUserID, &identity.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to find identity %s/%s: %w", provider, subject, err)
	}
	return &identity, nil
}

// Link は既存ユーザーにidentityを紐付ける。
// 同じユーザーへの紐付けが既にあれば何もしない。別ユーザーに紐付いている場合はDuplicateErrorを返す。
func (r *PostgresIdentityRepo) Link(ctx context.Context, identity *model.Identity) error {
	// 挿入できればその行、衝突すれば既存行のuser_idを1文で得る
	var owner string
	err := r.db.QueryRowContext(ctx,
		`WITH inserted AS (
			INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (provider, provider_user_id) DO NOTHING
			RETURNING user_id
		)
		SELECT user_id FROM inserted
		UNION ALL
		SELECT user_id FROM identities WHERE provider = $3 AND provider_user_id = $4
		LIMIT 1`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	).Scan(&owner)

	// 並行トランザクションが同じ主体を挿入した直後はスナップショットに行が見えない
	if errors.Is(err, sql.ErrNoRows) {
		return &DuplicateError{Constraint: ConstraintIdentity}
	}
	if err != nil {
		return fmt.Errorf("failed to link identity: %w", translateError(err))
	}
	if owner != identity.UserID {
		return &DuplicateError{Constraint: ConstraintIdentity}
	}
	return nil
}

func insertIdentity(ctx context.Context, db execer, identity *model.Identity) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
	)
	return translateError(err)
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
