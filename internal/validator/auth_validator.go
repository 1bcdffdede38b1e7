package validator

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"brickshop/internal/repository"
	"brickshop/internal/usecase"
)

// パスワード最低文字数
const minPasswordLength = 8

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type authValidator struct {
	users repository.UserRepository
}

// Usecaseは interface を依存注入
func NewAuthValidator(users repository.UserRepository) usecase.AuthValidator {
	return &authValidator{users: users}
}

// サインアップの入力を検証
func (v *authValidator) ValidateRegister(ctx context.Context, email string, password string) error {
	fields := map[string]string{}
	checkEmail(fields, email)
	checkPassword(fields, password)
	if len(fields) > 0 {
		return usecase.NewValidationError("invalid input", fields)
	}

	//本会員だけ見る（同じメールのゲストは登録できる）
	u, err := v.users.FindByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return usecase.ErrInternal
	}
	if u != nil {
		return usecase.NewHTTPError(http.StatusConflict, "email already registered")
	}

	return nil
}

// ログインの入力を検証
func (v *authValidator) ValidateLogin(_ context.Context, email string, password string) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return usecase.ErrValidation
	}
	if !isEmailLike(email) {
		return usecase.ErrValidation
	}
	return nil
}

func (v *authValidator) ValidateResetPassword(_ context.Context, token string, password string) error {
	fields := map[string]string{}
	if strings.TrimSpace(token) == "" {
		fields["token"] = "required"
	}
	checkPassword(fields, password)
	if len(fields) > 0 {
		return usecase.NewValidationError("invalid input", fields)
	}
	return nil
}

// 強制ログアウトの入力を検証
func (v *authValidator) ValidateForceLogout(_ context.Context, targetUserID int64) error {
	if targetUserID <= 0 {
		return usecase.ErrValidation
	}
	return nil
}

func checkEmail(fields map[string]string, email string) {
	email = strings.TrimSpace(email)
	switch {
	case email == "":
		fields["email"] = "required"
	case !isEmailLike(email):
		fields["email"] = "invalid format"
	}
}

func checkPassword(fields map[string]string, password string) {
	if len(password) < minPasswordLength {
		fields["password"] = "must be at least 8 characters"
	}
}

// 簡易メール形式をチェック
func isEmailLike(s string) bool {
	return emailRe.MatchString(strings.TrimSpace(s))
}
