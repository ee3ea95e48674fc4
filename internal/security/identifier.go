package security

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

// メールアドレス全体とローカル部の長さ上限 (RFC 5321)。
const (
	maxEmailLength     = 320
	maxEmailLocalPart  = 64
	maxEmailDomainPart = 255
)

// ErrInvalidEmail はメールアドレスの形式が不正な場合のエラー。
var ErrInvalidEmail = errors.New("invalid email address")

// emailProfile はドメイン部の正規化に使うIDNAプロファイル。
var emailProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.ValidateLabels(true),
	idna.StrictDomainName(true),
)

// NormalizeEmail はメールアドレスを一意性判定に使う正規形に変換する。
// 前後の空白を除去し、ローカル部を小文字化し、ドメイン部をIDNAのASCII形式に変換する。
// 同一の利用者が表記ゆれで複数アカウントを作れないよう、登録・照合の両方で使う。
func NormalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}

	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", ErrInvalidEmail
	}
	local := strings.ToLower(email[:at])
	domain := email[at+1:]

	if len(local) > maxEmailLocalPart || strings.ContainsAny(local, " \t\r\n@<>") {
		return "", ErrInvalidEmail
	}

	asciiDomain, err := emailProfile.ToASCII(domain)
	if err != nil || asciiDomain == "" || len(asciiDomain) > maxEmailDomainPart {
		return "", ErrInvalidEmail
	}
	if !strings.Contains(asciiDomain, ".") {
		return "", ErrInvalidEmail
	}

	return local + "@" + asciiDomain, nil
}
