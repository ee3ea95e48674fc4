// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/cafesns/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はErrNotFoundを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。
	// 見つからない場合はErrNotFoundを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// ExistsByEmail はメールアドレスが登録済みかを返す。
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// ExistsByNickname はニックネームが登録済みかを返す。
	ExistsByNickname(ctx context.Context, nickname string) (bool, error)

	// Create はユーザーを作成する。
	// 一意制約違反の場合はErrDuplicateをラップしたエラーを返す。
	Create(ctx context.Context, user *model.User) error

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindBySubject はproviderとIdP上のユーザーIDでidentityを検索する。
	// 見つからない場合はErrNotFoundを返す。
	FindBySubject(ctx context.Context, provider, subject string) (*model.Identity, error)

	// Link は既存ユーザーにidentityを紐付ける。同じユーザーへの再紐付けは成功扱い。
	// 主体が別ユーザーに紐付いている場合はErrDuplicateをラップしたエラーを返す。
	Link(ctx context.Context, identity *model.Identity) error
}

// RefreshTokenRepository はリフレッシュトークンの永続化インターフェース。
// ユーザーごとに最大1件のみ保持する。
type RefreshTokenRepository interface {
	// FindByUserID は指定ユーザーのリフレッシュトークンを取得する。
	// 見つからない場合はErrNotFoundを返す。
	FindByUserID(ctx context.Context, userID string) (*model.RefreshToken, error)

	// Upsert はリフレッシュトークンを単一文で置き換える。
	// 同一ユーザーへの並行呼び出しでも行は1件のまま、最後にコミットした値が残る。
	Upsert(ctx context.Context, token *model.RefreshToken) error

	// DeleteByUserID は指定ユーザーのリフレッシュトークンを削除する。
	// 削除対象が存在した場合はtrueを返す。
	DeleteByUserID(ctx context.Context, userID string) (bool, error)
}
