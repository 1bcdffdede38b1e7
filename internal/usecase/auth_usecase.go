package usecase

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	"brickshop/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// パスワード再設定リンクの有効期限
const resetTokenTTL = time.Hour

// usecaseがValidatorInterfaceに依存する約束
type AuthValidator interface {
	ValidateRegister(ctx context.Context, email string, password string) error
	ValidateLogin(ctx context.Context, email string, password string) error
	ValidateResetPassword(ctx context.Context, token string, password string) error
	ValidateForceLogout(ctx context.Context, targetUserID int64) error
}

type UserDTO struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
	IsActive     bool   `json:"is_active"`
}

type AuthRegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	CPF      string `json:"cpf"`
	Phone    string `json:"phone"`
}

type AuthRegisterResponse struct {
	User UserDTO `json:"user"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SessionTokenDTO struct {
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenVersion int       `json:"token_version"`
}

type AuthLoginResponse struct {
	User    UserDTO         `json:"user"`
	Session SessionTokenDTO `json:"session"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

type ForceLogoutResponse struct {
	UserID          int64 `json:"user_id"`
	NewTokenVersion int   `json:"new_token_version"`
}

type AuthUsecase struct {
	cfg       config.Config
	users     repository.UserRepository
	validator AuthValidator
	notifier  gateway.Notifier
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewAuthUsecase(
	cfg config.Config,
	users repository.UserRepository,
	validator AuthValidator,
	notifier gateway.Notifier,
	log logrus.FieldLogger,
) *AuthUsecase {
	return &AuthUsecase{
		cfg:       cfg,
		users:     users,
		validator: validator,
		notifier:  notifier,
		log:       log,
		now:       time.Now,
	}
}

func (u *AuthUsecase) Register(ctx context.Context, req AuthRegisterRequest) (*AuthRegisterResponse, error) {
	req.Email = normalizeEmail(req.Email)

	//入力検証（validatorに寄せる）
	if err := u.validator.ValidateRegister(ctx, req.Email, req.Password); err != nil {
		return nil, err
	}

	//パスワードは必ずハッシュ化して保存（平文保存しない）
	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ErrInternal
	}

	user := &model.User{
		Email:        req.Email,
		PasswordHash: string(pwHash),
		Role:         model.RoleCustomer,
		Name:         strings.TrimSpace(req.Name),
		CPF:          onlyDigits(req.CPF),
		Phone:        strings.TrimSpace(req.Phone),
		TokenVersion: 0,
		IsActive:     true,
	}

	if err := u.users.Create(ctx, user); err != nil {
		//validatorの後に同時登録された場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, NewHTTPError(http.StatusConflict, "email already registered")
		}
		return nil, ErrInternal
	}

	return &AuthRegisterResponse{User: toUserDTO(user)}, nil
}

func (u *AuthUsecase) Login(ctx context.Context, req AuthLoginRequest) (*AuthLoginResponse, error) {
	req.Email = normalizeEmail(req.Email)

	if err := u.validator.ValidateLogin(ctx, req.Email, req.Password); err != nil {
		return nil, err
	}

	//ゲストはここでは見つからない（本会員のみ）
	user, err := u.users.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, ErrInternal
	}
	if user == nil {
		return nil, ErrUnauthorized
	}

	//停止ユーザーはログイン不可
	if !user.IsActive {
		return nil, ErrForbidden
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrUnauthorized
	}

	now := u.now()
	user.LastLoginAt = &now
	if err := u.users.Update(ctx, user); err != nil {
		u.log.WithError(err).WithField("user_id", user.ID).Warn("update last_login_at failed")
	}

	token, exp, err := u.issueSessionToken(user)
	if err != nil {
		return nil, ErrInternal
	}

	return &AuthLoginResponse{
		User: toUserDTO(user),
		Session: SessionTokenDTO{
			Token:        token,
			ExpiresAt:    exp,
			TokenVersion: user.TokenVersion,
		},
	}, nil
}

func (u *AuthUsecase) Me(ctx context.Context, userID int64) (*UserDTO, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	user, err := u.users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return nil, ErrUnauthorized
	}

	if !user.IsActive {
		return nil, ErrForbidden
	}

	dto := toUserDTO(user)
	return &dto, nil
}

// ForgotPassword は登録の有無に関わらず成功を返す（メールの存在を漏らさない）
func (u *AuthUsecase) ForgotPassword(ctx context.Context, email string) (*SuccessResponse, error) {
	ok := &SuccessResponse{Message: "if the email is registered, a reset link was sent"}

	email = normalizeEmail(email)
	if email == "" {
		return ok, nil
	}

	user, err := u.users.FindByEmail(ctx, email)
	if err != nil {
		u.log.WithError(err).Warn("forgot password: user lookup failed")
		return ok, nil
	}
	if user == nil || !user.IsActive {
		return ok, nil
	}

	plain, hash, err := newRandomTokenAndHash()
	if err != nil {
		u.log.WithError(err).Warn("forgot password: token generation failed")
		return ok, nil
	}

	exp := u.now().Add(resetTokenTTL)
	user.ResetTokenHash = hash
	user.ResetTokenExpiry = &exp
	if err := u.users.Update(ctx, user); err != nil {
		u.log.WithError(err).WithField("user_id", user.ID).Warn("forgot password: save token failed")
		return ok, nil
	}

	link := strings.TrimRight(u.cfg.FEURL, "/") + "/reset-password?token=" + plain
	if err := u.notifier.PasswordReset(ctx, user.Email, link); err != nil {
		u.log.WithError(err).WithField("user_id", user.ID).Warn("forgot password: send mail failed")
	}

	return ok, nil
}

func (u *AuthUsecase) ResetPassword(ctx context.Context, req ResetPasswordRequest) (*SuccessResponse, error) {
	if err := u.validator.ValidateResetPassword(ctx, req.Token, req.Password); err != nil {
		return nil, err
	}

	user, err := u.users.FindByResetTokenHash(ctx, hashToken(req.Token))
	if err != nil {
		return nil, ErrInternal
	}
	if user == nil || user.ResetTokenExpiry == nil || !u.now().Before(*user.ResetTokenExpiry) {
		return nil, NewHTTPError(http.StatusBadRequest, "invalid or expired token")
	}

	pwHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, ErrInternal
	}

	//トークンは1回限り。既存セッションも失効させる
	user.PasswordHash = string(pwHash)
	user.ResetTokenHash = ""
	user.ResetTokenExpiry = nil
	user.TokenVersion++
	if err := u.users.Update(ctx, user); err != nil {
		return nil, ErrInternal
	}

	return &SuccessResponse{Message: "password updated"}, nil
}

func (u *AuthUsecase) ForceLogout(ctx context.Context, targetUserID int64) (*ForceLogoutResponse, error) {
	if err := u.validator.ValidateForceLogout(ctx, targetUserID); err != nil {
		return nil, err
	}

	if err := u.users.IncrementTokenVersion(ctx, targetUserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrInternal
	}

	//更新後を取得してnew_token_versionを返す
	user, err := u.users.FindByID(ctx, targetUserID)
	if err != nil || user == nil {
		return nil, ErrInternal
	}

	return &ForceLogoutResponse{
		UserID:          user.ID,
		NewTokenVersion: user.TokenVersion,
	}, nil
}

// セッショントークン（HS256）
func (u *AuthUsecase) issueSessionToken(user *model.User) (string, time.Time, error) {
	now := u.now()
	exp := now.Add(u.cfg.SessionTTL)

	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"tv":   user.TokenVersion,
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := t.SignedString([]byte(u.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, exp, nil
}

// 平文 + DB保存用hash
func newRandomTokenAndHash() (plain string, hash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}

	plain = base64.RawURLEncoding.EncodeToString(b)
	return plain, hashToken(plain), nil
}

func hashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// model.UserをAPI返却用DTOに変換。
func toUserDTO(u *model.User) UserDTO {
	return UserDTO{
		ID:           u.ID,
		Email:        u.Email,
		Name:         u.Name,
		Role:         string(u.Role),
		TokenVersion: u.TokenVersion,
		IsActive:     u.IsActive,
	}
}
