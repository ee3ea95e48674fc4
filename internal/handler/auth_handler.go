// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/hitoshi/cafesns/internal/auth"
	"github.com/hitoshi/cafesns/internal/middleware"
	"github.com/hitoshi/cafesns/internal/model"
	"github.com/hitoshi/cafesns/internal/token"
)

const (
	imageFormField      = "image"
	refreshTokenHeader  = "RefreshToken"
	multipartMemory     = 1 << 20
	multipartFieldBytes = 64 << 10 // 画像以外のフォーム項目に許す上限
	signinBodyBytes     = 16 << 10
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) error
	Signin(ctx context.Context, email, password string) (*model.SigninResult, error)
	Signout(ctx context.Context, userID string) (*model.SignoutResult, error)
	Reissue(ctx context.Context, accessToken, refreshToken string) (*model.TokenPair, error)
	Me(ctx context.Context, userID string) (*model.User, error)
	BeginOAuthLogin(ctx context.Context) (string, error)
	HandleOAuthCallback(ctx context.Context, code, state string) (*model.SigninResult, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	MaxImageBytes int64 // アップロード画像の上限（バイト）
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Signup はメールアドレスとパスワードでユーザーを登録する。
// POST /signup (multipart/form-data)
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxImageBytes+multipartFieldBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		middleware.WriteError(w, r, signupFormError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	image, err := h.readImage(r)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	err = h.service.Signup(r.Context(), auth.SignupInput{
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
		Nickname: r.FormValue("nickname"),
		Role:     r.FormValue("role"),
		Image:    image,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, "会員登録が完了しました。", nil)
}

// readImage は任意項目の画像ファイルを読み込む。未指定ならnilを返す。
func (h *AuthHandler) readImage(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile(imageFormField)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewInvalidInputError("画像ファイルを読み込めませんでした")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.config.MaxImageBytes+1))
	if err != nil {
		return nil, model.NewInvalidInputError("画像ファイルを読み込めませんでした")
	}
	if int64(len(data)) > h.config.MaxImageBytes {
		return nil, model.NewInvalidInputError("画像サイズが上限を超えています")
	}
	return data, nil
}

func signupFormError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) || errors.Is(err, multipart.ErrMessageTooLarge) {
		return model.NewInvalidInputError("画像サイズが上限を超えています")
	}
	return model.NewInvalidInputError("フォームの形式が正しくありません")
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signin はメールアドレスとパスワードで認証し、トークンを発行する。
// POST /signin
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, signinBodyBytes)).Decode(&req); err != nil {
		middleware.WriteError(w, r, model.NewInvalidInputError("リクエストの形式が正しくありません"))
		return
	}

	result, err := h.service.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, "ログインしました。", result)
}

// Signout は認証済みユーザーのリフレッシュトークンを失効させる。
// POST /signout
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewUnauthenticatedError())
		return
	}

	result, err := h.service.Signout(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	message := "ログアウトしました。"
	if !result.Revoked {
		message = "既にログアウトしています。"
	}
	middleware.WriteJSON(w, http.StatusOK, message, nil)
}

// Reissue は期限切れのアクセストークンとリフレッシュトークンから
// 新しいアクセストークンを発行する。
// POST /reissue
func (h *AuthHandler) Reissue(w http.ResponseWriter, r *http.Request) {
	pair, err := h.service.Reissue(r.Context(),
		r.Header.Get("Authorization"),
		token.StripBearer(r.Header.Get(refreshTokenHeader)),
	)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, "トークンを再発行しました。", pair)
}

// NaverLogin はNaver OAuthフローを開始する。
// GET /oauth/naver/login
func (h *AuthHandler) NaverLogin(w http.ResponseWriter, r *http.Request) {
	loginURL, err := h.service.BeginOAuthLogin(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	http.Redirect(w, r, loginURL, http.StatusTemporaryRedirect)
}

// NaverCallback はOAuthコールバックを処理し、トークンを発行する。
// GET /oauth/naver/callback?code=xxx&state=yyy
func (h *AuthHandler) NaverCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		slog.Warn("oauth authorization denied",
			slog.String("error", reason),
			slog.String("error_description", q.Get("error_description")),
		)
		middleware.WriteError(w, r, model.NewInvalidInputError("認可がキャンセルされました"))
		return
	}

	result, err := h.service.HandleOAuthCallback(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, "ログインしました。", result)
}

type meResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Nickname     string     `json:"nickname"`
	Role         model.Role `json:"role"`
	ProfileImage string     `json:"profileImage,omitempty"`
	LogoImage    string     `json:"logoImage,omitempty"`
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewUnauthenticatedError())
		return
	}

	user, err := h.service.Me(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, "ok", meResponse{
		ID:           user.ID,
		Email:        user.Email,
		Nickname:     user.Nickname,
		Role:         user.Role,
		ProfileImage: user.ProfileImage,
		LogoImage:    user.LogoImage,
	})
}
