package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/cafesns/internal/model"
)

// PostgresRefreshTokenRepo はPostgreSQLを使用したリフレッシュトークンリポジトリ。
// refresh_tokens.user_id が主キーのため、ユーザーごとに1行しか存在しない。
type PostgresRefreshTokenRepo struct {
	db *sql.DB
}

// NewPostgresRefreshTokenRepo はPostgresRefreshTokenRepoを生成する。
func NewPostgresRefreshTokenRepo(db *sql.DB) *PostgresRefreshTokenRepo {
	return &PostgresRefreshTokenRepo{db: db}
}

// FindByUserID は指定ユーザーのリフレッシュトークンを取得する。
// 期限切れの行もそのまま返し、判定は呼び出し側が行う。
func (r *PostgresRefreshTokenRepo) FindByUserID(ctx context.Context, userID string) (*model.RefreshToken, error) {
	token := &model.RefreshToken{}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, token_hash, expires_at, created_at
		 FROM refresh_tokens
		 WHERE user_id = $1`,
		userID,
	).Scan(&token.UserID, &token.TokenHash, &token.ExpiresAt, &token.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find refresh token: %w", err)
	}

	return token, nil
}

// Upsert はリフレッシュトークンを単一のINSERT ... ON CONFLICTで置き換える。
func (r *PostgresRefreshTokenRepo) Upsert(ctx context.Context, token *model.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		   token_hash = EXCLUDED.token_hash,
		   expires_at = EXCLUDED.expires_at,
		   created_at = EXCLUDED.created_at`,
		token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert refresh token: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーのリフレッシュトークンを削除する。
// 削除対象が存在しなかった場合はfalseを返し、エラーにはしない。
func (r *PostgresRefreshTokenRepo) DeleteByUserID(ctx context.Context, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ RefreshTokenRepository = (*PostgresRefreshTokenRepo)(nil)
