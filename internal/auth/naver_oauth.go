package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/hitoshi/cafesns/internal/model"
)

// ProviderNaver はNaverログインのプロバイダー名。
const ProviderNaver = "naver"

const (
	defaultNaverAuthURL    = "https://nid.naver.com/oauth2.0/authorize"
	defaultNaverTokenURL   = "https://nid.naver.com/oauth2.0/token"
	defaultNaverProfileURL = "https://openapi.naver.com/v1/nid/me"

	// naverResultOK はプロフィールAPIの成功時resultcode。
	naverResultOK = "00"

	// maxProfileResponseBytes はプロフィール応答の読み込み上限。
	maxProfileResponseBytes = 1 << 20
)

// NaverOAuthConfig はNaver OAuthプロバイダーの設定。起動時に1回だけ構築する。
type NaverOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL    string
	TokenURL   string
	ProfileURL string

	// HTTPClient はトークン交換とプロフィール取得に使うクライアント。
	// タイムアウト付きのクライアントを渡すこと。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// NaverOAuthProvider はNaverログイン(OAuth 2.0)による認証を提供する。
// 生成後は不変で、並行利用して安全。
type NaverOAuthProvider struct {
	oauth      *oauth2.Config
	profileURL string
	client     *http.Client
}

// NewNaverOAuthProvider はNaverOAuthProviderを生成する。
func NewNaverOAuthProvider(config NaverOAuthConfig) *NaverOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultNaverAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultNaverTokenURL
	}
	if config.ProfileURL == "" {
		config.ProfileURL = defaultNaverProfileURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &NaverOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.AuthURL,
				TokenURL: config.TokenURL,
				// Naverはクライアント認証情報をフォームパラメータで受け取る
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		profileURL: config.ProfileURL,
		client:     client,
	}
}

// Name はプロバイダー名を返す。
func (p *NaverOAuthProvider) Name() string {
	return ProviderNaver
}

// GetLoginURL はNaverの認可URLを生成する。
func (p *NaverOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// Naverはトークンエンドポイントにもstateの送信を要求する。
func (p *NaverOAuthProvider) ExchangeCode(ctx context.Context, code, state string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	tok, err := p.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("state", state))
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.NewOAuthExchangeFailedError("トークンを取得できませんでした"), err)
	}
	if tok.AccessToken == "" {
		return "", model.NewOAuthExchangeFailedError("アクセストークンが空です")
	}

	return tok.AccessToken, nil
}

// naverProfileResponse はNaverプロフィールAPIのレスポンス。
type naverProfileResponse struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   struct {
		ID           string `json:"id"`
		Nickname     string `json:"nickname"`
		Email        string `json:"email"`
		ProfileImage string `json:"profile_image"`
	} `json:"response"`
}

// FetchProfile はアクセストークンでNaverのプロフィールを取得し、正規化して返す。
func (p *NaverOAuthProvider) FetchProfile(ctx context.Context, accessToken string) (*model.ExternalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.NewOAuthProfileFailedError("プロフィールAPIに接続できませんでした"), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.NewOAuthProfileFailedError("応答を読み込めませんでした"), err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", model.NewOAuthProfileFailedError("プロフィールAPIがエラーを返しました"), resp.StatusCode)
	}

	var profile naverProfileResponse
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("%w: %v", model.NewOAuthProfileFailedError("応答の形式が不正です"), err)
	}
	if profile.ResultCode != naverResultOK {
		return nil, fmt.Errorf("%w: resultcode=%s message=%s",
			model.NewOAuthProfileFailedError("プロフィールAPIがエラーを返しました"), profile.ResultCode, profile.Message)
	}

	r := profile.Response
	if r.ID == "" || r.Email == "" || r.Nickname == "" {
		return nil, model.NewOAuthProfileFailedError("必須項目（ID・メールアドレス・ニックネーム）が不足しています")
	}

	return &model.ExternalIdentity{
		Provider:       ProviderNaver,
		ProviderUserID: r.ID,
		Nickname:       r.Nickname,
		Email:          r.Email,
		AvatarURL:      r.ProfileImage,
		AccessToken:    accessToken,
	}, nil
}

// compile-time interface check
var _ OAuthProvider = (*NaverOAuthProvider)(nil)
