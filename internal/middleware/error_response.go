package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/cafesns/internal/model"
)

// ResponseBody はAPIレスポンスの統一フォーマット。
// 成功時はdataを、失敗時はcode・category・actionを含む。
type ResponseBody struct {
	Result   bool   `json:"result"`
	Message  string `json:"message"`
	Data     any    `json:"data,omitempty"`
	Code     string `json:"code,omitempty"`
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
func StatusForCode(code string) int {
	switch code {
	case model.ErrCodeDuplicateIdentifier:
		return http.StatusConflict
	case model.ErrCodeInvalidCredentials, model.ErrCodeUnauthenticated, model.ErrCodeRefreshTokenMismatch:
		return http.StatusUnauthorized
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeOAuthExchangeFailed, model.ErrCodeOAuthProfileFailed:
		return http.StatusBadGateway
	case model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON は成功レスポンスを統一フォーマットで書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, message string, data any) {
	writeBody(w, statusCode, ResponseBody{
		Result:  true,
		Message: message,
		Data:    data,
	})
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeBody(w, statusCode, ResponseBody{
		Result:   false,
		Message:  apiErr.Message,
		Code:     apiErr.Code,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はerrのチェーンからAPIErrorを取り出し、対応するステータスで書き込む。
// APIErrorを含まないエラーはログに記録し、詳細を隠して500を返す。
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForCode(apiErr.Code), apiErr)
		return
	}

	slog.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	WriteInternalServerError(w)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

func writeBody(w http.ResponseWriter, statusCode int, body ResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}
