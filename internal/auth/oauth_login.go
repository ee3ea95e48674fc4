package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/cafesns/internal/metrics"
	"github.com/hitoshi/cafesns/internal/model"
	"github.com/hitoshi/cafesns/internal/repository"
	"github.com/hitoshi/cafesns/internal/security"
)

// stateBytes はOAuth stateの乱数バイト長。
const stateBytes = 32

// BeginOAuthLogin はstateを発行・保存し、プロバイダーの認可URLを返す。
func (s *Service) BeginOAuthLogin(ctx context.Context) (string, error) {
	if s.oauth == nil || s.states == nil {
		return "", fmt.Errorf("oauth login is not configured")
	}

	state, err := randomHex(stateBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	if err := s.states.Save(ctx, state, s.oauth.Name(), s.config.OAuthStateTTL); err != nil {
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	return s.oauth.GetLoginURL(state), nil
}

// HandleOAuthCallback は認可コードを交換してプロフィールを取得し、
// 対応するユーザーを特定または作成してトークンを発行する。
// stateは1回だけ使用でき、検証に失敗した場合はINVALID_INPUTを返す。
func (s *Service) HandleOAuthCallback(ctx context.Context, code, state string) (*model.SigninResult, error) {
	if s.oauth == nil || s.states == nil {
		return nil, fmt.Errorf("oauth login is not configured")
	}
	if code == "" || state == "" {
		s.recordOAuthFailure(metrics.OAuthStageState)
		return nil, model.NewInvalidInputError("codeとstateは必須です")
	}

	provider, ok, err := s.states.Consume(ctx, state)
	if err != nil {
		s.recordOAuthFailure(metrics.OAuthStageState)
		return nil, fmt.Errorf("failed to consume state: %w", err)
	}
	if !ok || provider != s.oauth.Name() {
		s.recordOAuthFailure(metrics.OAuthStageState)
		return nil, model.NewInvalidInputError("stateが無効または期限切れです")
	}

	accessToken, err := s.oauth.ExchangeCode(ctx, code, state)
	if err != nil {
		s.recordOAuthFailure(metrics.OAuthStageExchange)
		slog.Warn("oauth code exchange failed", slog.String("error", err.Error()))
		return nil, err
	}

	ext, err := s.oauth.FetchProfile(ctx, accessToken)
	if err != nil {
		s.recordOAuthFailure(metrics.OAuthStageProfile)
		slog.Warn("oauth profile fetch failed", slog.String("error", err.Error()))
		return nil, err
	}

	user, err := s.resolveOAuthUser(ctx, ext)
	if err != nil {
		s.recordOAuthFailure(metrics.OAuthStageAccount)
		return nil, err
	}

	result, err := s.issueTokenPair(ctx, user)
	if err != nil {
		s.recordOAuthFailure(metrics.OAuthStageAccount)
		return nil, err
	}

	s.metrics.RecordOAuthLogin(metrics.OutcomeSuccess)
	slog.Info("user signed in with oauth",
		slog.String("user_id", user.ID),
		slog.String("provider", ext.Provider),
	)
	return result, nil
}

func (s *Service) recordOAuthFailure(stage string) {
	s.metrics.RecordOAuthLogin(metrics.OutcomeFailure)
	s.metrics.RecordOAuthFailure(stage)
}

// resolveOAuthUser は外部IDに対応するユーザーを返す。
// 既存の紐付け、同じメールアドレスのユーザーへの紐付け、新規作成の順に試す。
func (s *Service) resolveOAuthUser(ctx context.Context, ext *model.ExternalIdentity) (*model.User, error) {
	if ext.Provider == "" || ext.ProviderUserID == "" {
		return nil, model.NewOAuthProfileFailedError("プロバイダーのユーザーIDがありません")
	}

	user, err := s.findUserByIdentity(ctx, ext)
	if err != nil || user != nil {
		return user, err
	}

	email, err := security.NormalizeEmail(ext.Email)
	if err != nil {
		return nil, model.NewOAuthProfileFailedError("メールアドレスの形式が正しくありません")
	}

	user, err = s.linkExistingUser(ctx, ext, email)
	if err != nil || user != nil {
		return user, err
	}

	return s.createOAuthUser(ctx, ext, email)
}

// findUserByIdentity は紐付け済みのユーザーを返す。紐付けがなければnilを返す。
func (s *Service) findUserByIdentity(ctx context.Context, ext *model.ExternalIdentity) (*model.User, error) {
	identity, err := s.identities.FindBySubject(ctx, ext.Provider, ext.ProviderUserID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	user, err := s.users.FindByID(ctx, identity.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find linked user: %w", err)
	}
	return user, nil
}

// linkExistingUser は同じメールアドレスのユーザーにidentityを紐付ける。
// 該当ユーザーがなければnilを返す。
func (s *Service) linkExistingUser(ctx context.Context, ext *model.ExternalIdentity, email string) (*model.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	err = s.identities.Link(ctx, s.newIdentity(user.ID, ext))
	if errors.Is(err, repository.ErrDuplicate) {
		// 並行するコールバックが先に紐付けた
		return requireUser(s.findUserByIdentity(ctx, ext))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	slog.Info("linked oauth identity to existing user",
		slog.String("user_id", user.ID),
		slog.String("provider", ext.Provider),
	)
	return user, nil
}

// createOAuthUser はconsumerとしてユーザーとidentityを作成する。
// ニックネームが衝突した場合は乱数サフィックスを付けて再試行する。
func (s *Service) createOAuthUser(ctx context.Context, ext *model.ExternalIdentity, email string) (*model.User, error) {
	base, err := s.sanitizer.Nickname(ext.Nickname)
	if err != nil {
		base = ext.Provider + "_user"
	}

	nickname := base
	if taken, err := s.users.ExistsByNickname(ctx, nickname); err != nil {
		return nil, fmt.Errorf("failed to check nickname: %w", err)
	} else if taken {
		if nickname, err = suffixedNickname(base); err != nil {
			return nil, err
		}
	}

	avatar := ""
	if ext.AvatarURL != "" && s.urls != nil {
		if err := s.urls.ValidateURL(ext.AvatarURL); err == nil {
			avatar = ext.AvatarURL
		} else {
			slog.Warn("discarding oauth avatar URL", slog.String("error", err.Error()))
		}
	}

	for attempt := 0; attempt < maxAccountCreateAttempts; attempt++ {
		now := s.config.Now()
		user := &model.User{
			ID:           uuid.New().String(),
			Email:        email,
			Nickname:     nickname,
			Role:         model.RoleConsumer,
			ProfileImage: avatar,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err := s.users.CreateWithIdentity(ctx, user, s.newIdentity(user.ID, ext))
		if err == nil {
			slog.Info("created user from oauth identity",
				slog.String("user_id", user.ID),
				slog.String("provider", ext.Provider),
			)
			return user, nil
		}

		constraint, dup := repository.DuplicateConstraint(err)
		if !dup {
			return nil, fmt.Errorf("failed to create oauth user: %w", err)
		}

		switch constraint {
		case repository.ConstraintUserNickname:
			if nickname, err = suffixedNickname(base); err != nil {
				return nil, err
			}
		case repository.ConstraintIdentity:
			return requireUser(s.findUserByIdentity(ctx, ext))
		default:
			// 同じメールアドレスのユーザーが並行して作成された
			return requireUser(s.linkExistingUser(ctx, ext, email))
		}
	}

	return nil, fmt.Errorf("failed to create oauth user: nickname %q kept colliding", base)
}

// requireUser は競合後の再検索でユーザーが見つからなかった場合をエラーにする。
func requireUser(user *model.User, err error) (*model.User, error) {
	if err == nil && user == nil {
		return nil, fmt.Errorf("oauth user disappeared after conflict")
	}
	return user, err
}

func (s *Service) newIdentity(userID string, ext *model.ExternalIdentity) *model.Identity {
	return &model.Identity{
		ID:             uuid.New().String(),
		UserID:         userID,
		Provider:       ext.Provider,
		ProviderUserID: ext.ProviderUserID,
		CreatedAt:      s.config.Now(),
	}
}

// suffixedNickname はbaseに "_" と16進6桁を付けたニックネームを返す。
// 上限文字数に収まるようにbaseを切り詰める。
func suffixedNickname(base string) (string, error) {
	suffix, err := randomHex(nicknameSuffixBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate nickname suffix: %w", err)
	}
	runes := []rune(base)
	if limit := security.MaxNicknameLength - len(suffix) - 1; len(runes) > limit {
		runes = runes[:limit]
	}
	return string(runes) + "_" + suffix, nil
}
