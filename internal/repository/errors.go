package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound は検索対象が存在しないことを示す。
// 不在を失敗とみなすかどうかは呼び出し側が判断する。
var ErrNotFound = errors.New("record not found")

// ErrDuplicate は一意制約違反を示す。
var ErrDuplicate = errors.New("duplicate record")

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// DuplicateError は違反した一意制約の名前を保持する。
// errors.Is(err, ErrDuplicate) で判定できる。
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicate.Error(), e.Constraint)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

// 制約名。マイグレーションで定義した名前と一致させる。
const (
	ConstraintUserEmail    = "users_email_key"
	ConstraintUserNickname = "users_nickname_key"
	ConstraintIdentity     = "identities_provider_user_key"
)

// translateError はドライバのエラーをリポジトリのエラーに変換する。
// 一意制約違反以外はそのまま返す。
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &DuplicateError{Constraint: pqErr.Constraint}
	}
	return err
}

// DuplicateConstraint はエラーが一意制約違反であれば制約名を返す。
func DuplicateConstraint(err error) (string, bool) {
	var dupErr *DuplicateError
	if errors.As(err, &dupErr) {
		return dupErr.Constraint, true
	}
	return "", false
}
