package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	//400 入力不足
	ErrValidation = errors.New("validation error")
	//401 認証失敗
	ErrUnauthorized = errors.New("unauthorized")
	//403 権限
	ErrForbidden = errors.New("forbidden")
	//404
	ErrNotFound = errors.New("not found")
	//409 競合
	ErrConflict = errors.New("conflict")
	//500
	ErrInternal = errors.New("internal error")
)

// HTTPError はhandlerがそのままレスポンスにする業務エラー。
// Err は原因（ログ用でレスポンスには出さない）。
type HTTPError struct {
	Status  int
	Message string
	Fields  map[string]string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d: %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

// NewValidationError は項目ごとの理由付きの400
func NewValidationError(message string, fields map[string]string) error {
	return &HTTPError{
		Status:  http.StatusBadRequest,
		Message: message,
		Fields:  fields,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

func dbError(err error) error {
	return &HTTPError{Status: http.StatusInternalServerError, Message: "db error", Err: err}
}

func providerError(message string, err error) error {
	return &HTTPError{Status: http.StatusBadGateway, Message: message, Err: err}
}
