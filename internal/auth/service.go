// Package auth はサインアップ・サインイン・トークン再発行・サインアウトと、
// 外部IdP(OAuth)によるログインを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/cafesns/internal/metrics"
	"github.com/hitoshi/cafesns/internal/model"
	"github.com/hitoshi/cafesns/internal/password"
	"github.com/hitoshi/cafesns/internal/repository"
	"github.com/hitoshi/cafesns/internal/security"
	"github.com/hitoshi/cafesns/internal/storage"
	"github.com/hitoshi/cafesns/internal/token"
)

// maxPasswordBytes はハッシュ計算に渡すパスワードの上限。
const maxPasswordBytes = 256

// nicknameSuffixBytes はニックネーム衝突時に付与する乱数サフィックスのバイト数（16進6桁）。
const nicknameSuffixBytes = 3

// maxAccountCreateAttempts はOAuthユーザー作成時の一意制約違反に対する再試行回数。
const maxAccountCreateAttempts = 3

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// Name はidentitiesテーブルに保存するプロバイダー名を返す。
	Name() string
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをプロバイダーのアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code, state string) (string, error)
	// FetchProfile はプロバイダーのアクセストークンでプロフィールを取得する。
	FetchProfile(ctx context.Context, accessToken string) (*model.ExternalIdentity, error)
}

// StateStore はOAuthのstateパラメータを一時保存するストア。
type StateStore interface {
	Save(ctx context.Context, state, provider string, ttl time.Duration) error
	// Consume はstateを取得と同時に削除する。存在しない場合はfalseを返す。
	Consume(ctx context.Context, state string) (string, bool, error)
}

// NicknameSanitizer はニックネームを保存可能な形に正規化する。
type NicknameSanitizer interface {
	Nickname(raw string) (string, error)
}

// URLValidator は外部から受け取ったURLを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	OAuthStateTTL time.Duration

	// Now はテスト用に差し替え可能な時刻関数。nilの場合はtime.Now。
	Now func() time.Time
}

// Deps は認証サービスの依存関係。
type Deps struct {
	Users         repository.UserRepository
	Identities    repository.IdentityRepository
	RefreshTokens repository.RefreshTokenRepository
	Hasher        *password.Hasher
	Tokens        *token.Manager
	Images        storage.ImageStore
	OAuth         OAuthProvider
	States        StateStore
	Sanitizer     NicknameSanitizer
	URLs          URLValidator
	Metrics       metrics.MetricsCollector
}

// Service は認証に関するビジネスロジックを提供する。
// 状態はすべてリポジトリ側にあり、ハンドラーから並行に呼び出して安全。
type Service struct {
	users         repository.UserRepository
	identities    repository.IdentityRepository
	refreshTokens repository.RefreshTokenRepository
	hasher        *password.Hasher
	tokens        *token.Manager
	images        storage.ImageStore
	oauth         OAuthProvider
	states        StateStore
	sanitizer     NicknameSanitizer
	urls          URLValidator
	metrics       metrics.MetricsCollector
	config        ServiceConfig

	dummyOnce sync.Once
	dummyHash string
}

// NewService はServiceを生成する。
func NewService(deps Deps, config ServiceConfig) *Service {
	if config.Now == nil {
		config.Now = time.Now
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}

	return &Service{
		users:         deps.Users,
		identities:    deps.Identities,
		refreshTokens: deps.RefreshTokens,
		hasher:        deps.Hasher,
		tokens:        deps.Tokens,
		images:        deps.Images,
		oauth:         deps.OAuth,
		states:        deps.States,
		sanitizer:     sanitizer,
		urls:          deps.URLs,
		metrics:       m,
		config:        config,
	}
}

// SignupInput はサインアップの入力値。
type SignupInput struct {
	Email    string
	Password string
	Nickname string
	Role     string
	Image    []byte // 省略可
}

// Signup はパスワード認証のユーザーを登録する。
// メールアドレスまたはニックネームが既に使われている場合はDUPLICATE_IDENTIFIERを返す。
// 登録済みのメールアドレスは他の入力値に関係なくDUPLICATE_IDENTIFIERになる。
func (s *Service) Signup(ctx context.Context, in SignupInput) error {
	email, err := security.NormalizeEmail(in.Email)
	if err != nil {
		return model.NewInvalidInputError("メールアドレスの形式が正しくありません")
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return model.NewDuplicateEmailError()
	}

	if in.Password == "" {
		return model.NewInvalidInputError("パスワードを入力してください")
	}
	if len(in.Password) > maxPasswordBytes {
		return model.NewInvalidInputError("パスワードが長すぎます")
	}
	nickname, err := s.sanitizer.Nickname(in.Nickname)
	if err != nil {
		return model.NewInvalidInputError("ニックネームが正しくありません")
	}
	role, err := model.ParseRole(in.Role)
	if err != nil {
		return model.NewInvalidInputError("役割はconsumerまたはbusinessを指定してください")
	}

	exists, err = s.users.ExistsByNickname(ctx, nickname)
	if err != nil {
		return fmt.Errorf("failed to check nickname: %w", err)
	}
	if exists {
		return model.NewDuplicateNicknameError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.config.Now()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		Nickname:     nickname,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// 役割に応じて一方の画像スロットのみを埋める
	if len(in.Image) > 0 {
		url, err := s.storeImage(ctx, in.Image, role)
		if err != nil {
			return err
		}
		if role == model.RoleBusiness {
			user.LogoImage = url
		} else {
			user.ProfileImage = url
		}
	}

	if err := s.users.Create(ctx, user); err != nil {
		s.discardImage(ctx, user.ProfileImage+user.LogoImage)
		// 事前チェック後に並行登録された場合もここで重複として扱う
		if dupErr := duplicateUserError(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordSignup(string(role))
	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("role", string(role)),
	)
	return nil
}

// discardImage はユーザー作成に失敗したときにアップロード済みの画像を削除する。
// 削除できなかった場合は後から掃除できるようURLをログに残す。
func (s *Service) discardImage(ctx context.Context, url string) {
	if url == "" || s.images == nil {
		return
	}
	if err := s.images.Delete(context.WithoutCancel(ctx), url); err != nil {
		slog.Warn("orphaned signup image",
			slog.String("image_url", url),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) storeImage(ctx context.Context, data []byte, role model.Role) (string, error) {
	if s.images == nil {
		return "", fmt.Errorf("image store is not configured")
	}
	url, err := s.images.Store(ctx, data, role.ImageNamespace())
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrImageTooLarge):
			return "", model.NewInvalidInputError("画像サイズが大きすぎます")
		case errors.Is(err, storage.ErrUnsupportedImage), errors.Is(err, storage.ErrEmptyImage):
			return "", model.NewInvalidInputError("対応していない画像形式です")
		default:
			return "", fmt.Errorf("failed to store image: %w", err)
		}
	}
	return url, nil
}

// duplicateUserError は一意制約違反を対応するAPIErrorに変換する。
// 一意制約違反でない場合はnilを返す。
func duplicateUserError(err error) *model.APIError {
	constraint, ok := repository.DuplicateConstraint(err)
	if !ok {
		return nil
	}
	if constraint == repository.ConstraintUserNickname {
		return model.NewDuplicateNicknameError()
	}
	return model.NewDuplicateEmailError()
}

// Signin はメールアドレスとパスワードで認証し、トークンを発行する。
// 失敗理由（未登録・パスワード未設定・不一致）は区別せずINVALID_CREDENTIALSを返す。
func (s *Service) Signin(ctx context.Context, email, plainPassword string) (*model.SigninResult, error) {
	user, err := s.authenticate(ctx, email, plainPassword)
	if err != nil {
		s.metrics.RecordSignin(metrics.OutcomeFailure)
		return nil, err
	}

	result, err := s.issueTokenPair(ctx, user)
	if err != nil {
		s.metrics.RecordSignin(metrics.OutcomeFailure)
		return nil, err
	}

	s.metrics.RecordSignin(metrics.OutcomeSuccess)
	slog.Info("user signed in", slog.String("user_id", user.ID))
	return result, nil
}

func (s *Service) authenticate(ctx context.Context, rawEmail, plainPassword string) (*model.User, error) {
	email, err := security.NormalizeEmail(rawEmail)
	if err != nil || plainPassword == "" || len(plainPassword) > maxPasswordBytes {
		s.burnVerify(plainPassword)
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		s.burnVerify(plainPassword)
		return nil, model.NewInvalidCredentialsError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !user.HasPassword() {
		s.burnVerify(plainPassword)
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Verify(plainPassword, user.PasswordHash)
	if err != nil {
		slog.Error("stored password hash is invalid",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidCredentialsError()
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	return user, nil
}

// burnVerify は存在しないアカウントでも照合と同程度の時間をかける。
// 応答時間からアカウントの有無を推測されないようにする。
func (s *Service) burnVerify(plainPassword string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("cafesns-timing-equalizer")
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(plainPassword, s.dummyHash)
	}
}

// issueTokenPair はリフレッシュトークンを永続化した後にアクセストークンを発行する。
// 既存のリフレッシュトークンは置き換えられ、以前の値は使えなくなる。
func (s *Service) issueTokenPair(ctx context.Context, user *model.User) (*model.SigninResult, error) {
	plain, digest, err := token.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	if err := s.refreshTokens.Upsert(ctx, &model.RefreshToken{
		UserID:    user.ID,
		TokenHash: digest,
		ExpiresAt: s.tokens.RefreshExpiry(),
		CreatedAt: s.config.Now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	access, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	return &model.SigninResult{
		Nickname:     user.Nickname,
		Role:         user.Role,
		AccessToken:  access,
		RefreshToken: plain,
	}, nil
}

// Signout はユーザーのリフレッシュトークンを失効させる。
// 既にサインアウト済みの場合もエラーにはせず、Revoked=falseを返す。
func (s *Service) Signout(ctx context.Context, userID string) (*model.SignoutResult, error) {
	if _, err := s.findUser(ctx, userID); err != nil {
		return nil, err
	}

	revoked, err := s.refreshTokens.DeleteByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	s.metrics.RecordSignout(revoked)
	slog.Info("user signed out",
		slog.String("user_id", userID),
		slog.Bool("revoked", revoked),
	)
	return &model.SignoutResult{Revoked: revoked}, nil
}

// Reissue はリフレッシュトークンを照合してアクセストークンを再発行する。
// アクセストークンは署名のみ検証し、有効期限は問わない。
// リフレッシュトークンはローテーションせず、受け取った値をそのまま返す。
func (s *Service) Reissue(ctx context.Context, accessToken, refreshToken string) (*model.TokenPair, error) {
	claims, err := s.tokens.VerifyIgnoringExpiry(accessToken)
	if err != nil {
		return nil, s.reissueFailed(model.NewUnauthenticatedError())
	}

	user, err := s.findUser(ctx, claims.UserID())
	if err != nil {
		return nil, s.reissueFailed(err)
	}

	if err := s.matchRefreshToken(ctx, user.ID, refreshToken); err != nil {
		return nil, s.reissueFailed(err)
	}

	// 役割は保存済みの値を正とする
	access, err := s.tokens.IssueAccessToken(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to issue access token: %w", err)
	}

	s.metrics.RecordReissue(metrics.OutcomeSuccess)
	return &model.TokenPair{AccessToken: access, RefreshToken: refreshToken}, nil
}

// reissueFailed は失敗をエラーコード別に記録してerrをそのまま返す。
func (s *Service) reissueFailed(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		s.metrics.RecordReissue(apiErr.Code)
	} else {
		s.metrics.RecordReissue(metrics.OutcomeFailure)
	}
	return err
}

func (s *Service) matchRefreshToken(ctx context.Context, userID, supplied string) error {
	if supplied == "" {
		return model.NewRefreshTokenMismatchError()
	}

	stored, err := s.refreshTokens.FindByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewRefreshTokenMismatchError()
	}
	if err != nil {
		return fmt.Errorf("failed to find refresh token: %w", err)
	}

	if stored.IsExpired(s.config.Now()) || !token.MatchRefreshToken(supplied, stored.TokenHash) {
		return model.NewRefreshTokenMismatchError()
	}
	return nil
}

// Me は認証済みユーザーの情報を返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	return s.findUser(ctx, userID)
}

func (s *Service) findUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, model.NewUserNotFoundError()
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.NewUserNotFoundError()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// randomHex は暗号論的乱数をnバイト読み、16進文字列で返す。
func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
