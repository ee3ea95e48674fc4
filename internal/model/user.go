// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
	"time"
)

// Role はユーザーの種別を表す。作成後は変更されない。
type Role string

const (
	// RoleConsumer はカフェを利用する一般ユーザー。
	RoleConsumer Role = "consumer"
	// RoleBusiness はカフェを運営する事業者ユーザー。
	RoleBusiness Role = "business"
)

// ParseRole は文字列をRoleに変換する。
// 旧クライアントが送信する "user" は consumer として扱う。
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "consumer", "user":
		return RoleConsumer, nil
	case "business":
		return RoleBusiness, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// Valid は正規化済みの役割値かを返す。
func (r Role) Valid() bool {
	return r == RoleConsumer || r == RoleBusiness
}

// ImageNamespace は役割に応じた画像の保存先名前空間を返す。
// consumer はプロフィール画像、business はロゴ画像のみを持つ。
func (r Role) ImageNamespace() string {
	if r == RoleBusiness {
		return "logo"
	}
	return "profile"
}

// User はサービス利用ユーザーを表す。
type User struct {
	ID           string
	Email        string
	PasswordHash string // OAuthのみで作成されたユーザーは空
	Nickname     string
	Role         Role
	ProfileImage string
	LogoImage    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はパスワードでのログインが可能なユーザーかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Identity は外部IdPとの紐付け情報を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// RefreshToken はユーザーごとに1件だけ保持されるリフレッシュトークン。
// 平文は保存せず、SHA-256ダイジェストのみを保持する。
type RefreshToken struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired は指定時刻において期限切れかを返す。
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExternalIdentity はOAuthプロバイダーから取得した正規化済みのプロフィール。
// 永続化はせず、ユーザーの特定・作成にのみ使う。
type ExternalIdentity struct {
	Provider       string
	ProviderUserID string
	Nickname       string
	Email          string
	AvatarURL      string
	AccessToken    string
}

// SigninResult はサインイン成功時にクライアントへ返す内容。
type SigninResult struct {
	Nickname     string `json:"nickname"`
	Role         Role   `json:"role"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenPair はトークン再発行の結果。
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// SignoutResult はサインアウトの結果。
// Revoked が false の場合は既にサインアウト済みだったことを示す。
type SignoutResult struct {
	Revoked bool
}
