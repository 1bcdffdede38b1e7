package repository

import (
	"errors"
	"strings"

	repo "brickshop/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres の unique_violation
const pgUniqueViolation = "23505"

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	//SQLite（テスト）
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// gormのエラーをrepositoryのエラーに寄せる
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return repo.ErrNotFound
	case isUniqueViolation(err):
		return repo.ErrDuplicate
	default:
		return err
	}
}
