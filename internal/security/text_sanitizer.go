package security

import (
	"errors"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNicknameLength はニックネームの最大文字数（rune数）。
const MaxNicknameLength = 30

// ErrInvalidNickname はサニタイズ後のニックネームが使用できない場合のエラー。
var ErrInvalidNickname = errors.New("invalid nickname")

// TextSanitizer は利用者が入力した表示名などのプレーンテキストを正規化する。
// HTMLタグはすべて除去し、エンティティは元の文字に戻して保存する。
// 出力時のエスケープは表示側の責務とする。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// StripTags はHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
func (s *TextSanitizer) StripTags(raw string) string {
	stripped := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(stripped))
}

// Nickname はニックネームを正規化する。
// タグ除去後に空になるもの、制御文字を含むもの、長すぎるものはErrInvalidNicknameを返す。
func (s *TextSanitizer) Nickname(raw string) (string, error) {
	nickname := s.StripTags(raw)
	if nickname == "" || !utf8.ValidString(nickname) {
		return "", ErrInvalidNickname
	}
	if utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return "", ErrInvalidNickname
	}
	for _, r := range nickname {
		if unicode.IsControl(r) {
			return "", ErrInvalidNickname
		}
	}
	return nickname, nil
}
