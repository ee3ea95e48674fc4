// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, oauth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateIdentifier  = "DUPLICATE_IDENTIFIER"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeUnauthenticated      = "UNAUTHENTICATED"
	ErrCodeRefreshTokenMismatch = "REFRESH_TOKEN_MISMATCH"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeOAuthExchangeFailed  = "OAUTH_EXCHANGE_FAILED"
	ErrCodeOAuthProfileFailed   = "OAUTH_PROFILE_FAILED"
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewDuplicateEmailError はメールアドレス重複エラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentifier,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "validation",
		Action:   "別のメールアドレスを使用するか、サインインしてください。",
	}
}

// NewDuplicateNicknameError はニックネーム重複エラーを生成する。
func NewDuplicateNicknameError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateIdentifier,
		Message:  "このニックネームは既に使用されています。",
		Category: "validation",
		Action:   "別のニックネームを入力してください。",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
// メールアドレスとパスワードのどちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUnauthenticatedError はアクセストークン不正エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "アクセストークンが無効です。",
		Category: "auth",
		Action:   "サインインし直してください。",
	}
}

// NewRefreshTokenMismatchError はリフレッシュトークン不一致エラーを生成する。
func NewRefreshTokenMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeRefreshTokenMismatch,
		Message:  "リフレッシュトークンが一致しないか、有効期限が切れています。",
		Category: "auth",
		Action:   "サインインし直してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "サインインし直してください。",
	}
}

// NewOAuthExchangeFailedError は認可コード交換の失敗エラーを生成する。
func NewOAuthExchangeFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthExchangeFailed,
		Message:  fmt.Sprintf("外部サービスとの認証に失敗しました: %s", reason),
		Category: "oauth",
		Action:   "しばらく待ってから再度ログインしてください。",
	}
}

// NewOAuthProfileFailedError はプロフィール取得の失敗エラーを生成する。
func NewOAuthProfileFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOAuthProfileFailed,
		Message:  fmt.Sprintf("外部サービスからプロフィールを取得できませんでした: %s", reason),
		Category: "oauth",
		Action:   "メールアドレスとニックネームの提供に同意してから再度ログインしてください。",
	}
}

// NewInvalidInputError は入力値不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("入力値が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
