package repository

import (
	"errors"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	ErrVideoNotFound  = errors.New("video not found")
	ErrDuplicateTitle = errors.New("video title already exists")
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateUser  = errors.New("username or email already exists")
)

const mysqlDuplicateEntry = 1062

// isDuplicateKey recognizes unique violations from either driver, with or
// without gorm error translation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
