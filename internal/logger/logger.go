package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

const serviceName = "cafesns"

// redacted は秘匿属性の値を置き換える文字列。
const redacted = "[REDACTED]"

// sensitiveKeys は値をログに残さない属性キー（小文字で比較）。
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"authorization": {},
	"access_token":  {},
	"refresh_token": {},
	"refreshtoken":  {},
	"client_secret": {},
	"oauth_code":    {},
	"oauth_state":   {},
}

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// levelがnilならINFO。トークンやパスワードを表すキーの値は出力前に伏せる。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactSensitive,
	})
	return slog.New(handler).With(slog.String("service", serviceName))
}

// SetupDefault はSetupのロガーをslogのデフォルトにし、レベル変更用のLevelVarを返す。
// 設定の読み込み前はINFOで動き、読み込み後にLOG_LEVELを反映する。
func SetupDefault(w io.Writer) *slog.LevelVar {
	if w == nil {
		w = os.Stdout
	}
	level := new(slog.LevelVar)
	slog.SetDefault(Setup(w, level))
	return level
}

func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(a.Key)]; ok && a.Value.Kind() != slog.KindGroup {
		return slog.String(a.Key, redacted)
	}
	return a
}
