// Package token はアクセストークン(JWT)の発行・検証と、
// リフレッシュトークンの生成・ダイジェスト化を提供する。
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/cafesns/internal/model"
)

// ErrInvalidToken はアクセストークンが検証に失敗した場合のエラー。
// 構造不正・署名不一致・期限切れ・必須クレーム欠落のいずれも同じエラーになる。
var ErrInvalidToken = errors.New("invalid access token")

// refreshTokenBytes はリフレッシュトークンの乱数バイト長。
const refreshTokenBytes = 32

// Config はトークン発行の設定。起動時に1回だけ構築する。
type Config struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now はテスト用に差し替え可能な時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Claims はアクセストークンに埋め込むクレーム。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID はsubjectクレームのユーザーIDを返す。
func (c *Claims) UserID() string {
	return c.Subject
}

// UserRole は役割クレームをmodel.Roleとして返す。
func (c *Claims) UserRole() model.Role {
	return model.Role(c.Role)
}

// Manager はアクセストークンの発行と検証を行う。
// 署名鍵はプロセス全体で不変で、実行中にローテーションしない。
type Manager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewManager はManagerを生成する。
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Manager{
		secret:     secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        now,
	}, nil
}

// IssueAccessToken はユーザーIDと役割を埋め込んだHS256署名のJWTを発行する。
func (m *Manager) IssueAccessToken(userID string, role model.Role) (string, error) {
	if userID == "" {
		return "", errors.New("user ID is required")
	}

	now := m.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// Verify はアクセストークンを検証してクレームを返す。
// 署名・構造・有効期限・必須クレームのいずれかが不正な場合はErrInvalidTokenを返す。
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	return m.parse(tokenString,
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
}

// VerifyIgnoringExpiry は有効期限を無視してアクセストークンを検証する。
// 署名と必須クレームは検証する。トークン再発行でのみ使用する。
func (m *Manager) VerifyIgnoringExpiry(tokenString string) (*Claims, error) {
	return m.parse(tokenString, jwt.WithoutClaimsValidation())
}

func (m *Manager) parse(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	tokenString = StripBearer(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	)

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	// 必須クレームの欠落は部分的に信頼せず失敗とする
	if claims.Subject == "" || claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrInvalidToken)
	}
	if !claims.UserRole().Valid() {
		return nil, fmt.Errorf("%w: invalid role claim", ErrInvalidToken)
	}
	if m.issuer != "" && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	return claims, nil
}

// RefreshExpiry は現在時刻から算出したリフレッシュトークンの有効期限を返す。
func (m *Manager) RefreshExpiry() time.Time {
	return m.now().Add(m.refreshTTL)
}

// AccessTTL はアクセストークンの有効期間を返す。
func (m *Manager) AccessTTL() time.Duration {
	return m.accessTTL
}

// NewRefreshToken は不透明なリフレッシュトークンとそのダイジェストを生成する。
// 平文はクライアントにのみ返し、サーバーにはダイジェストだけを保存する。
func NewRefreshToken() (plain string, digest string, err error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}
	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, DigestRefreshToken(plain), nil
}

// DigestRefreshToken はリフレッシュトークンのSHA-256ダイジェスト(hex)を返す。
func DigestRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// MatchRefreshToken は平文トークンが保存済みダイジェストと一致するかを定数時間で比較する。
func MatchRefreshToken(plain, storedDigest string) bool {
	if plain == "" || storedDigest == "" {
		return false
	}
	got := DigestRefreshToken(plain)
	return subtle.ConstantTimeCompare([]byte(got), []byte(storedDigest)) == 1
}

// StripBearer は "Bearer " プレフィックスを取り除く。
// プレフィックスなしの生トークンもそのまま受け付ける。
func StripBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
