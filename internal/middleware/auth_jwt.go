package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"brickshop/internal/config"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	CtxUserIDKey       = "user_id"       // int64
	CtxUserRoleKey     = "user_role"     // string
	CtxTokenVersionKey = "token_version" // int
)

// SessionCookieName はログイン時に発行する HttpOnly cookie
const SessionCookieName = "session"

var ErrInvalidSession = errors.New("invalid session")

// Session はトークンから取り出した値
type Session struct {
	UserID       int64
	Role         string
	TokenVersion int
}

// ParseSession は HS256 のセッショントークンを検証して中身を返す。
func ParseSession(secret, rawToken string) (Session, error) {
	if rawToken == "" {
		return Session{}, ErrInvalidSession
	}

	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || token == nil || !token.Valid {
		return Session{}, ErrInvalidSession
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, ErrInvalidSession
	}

	userID, err := parseUserID(claims["sub"])
	if err != nil || userID <= 0 {
		return Session{}, ErrInvalidSession
	}

	//roleを取り出す（admin/customer/visitor）
	role, err := parseString(claims["role"])
	if err != nil || role == "" {
		return Session{}, ErrInvalidSession
	}

	tv, err := parseInt(claims["tv"])
	if err != nil || tv < 0 {
		return Session{}, ErrInvalidSession
	}

	return Session{UserID: userID, Role: role, TokenVersion: tv}, nil
}

// tokenFromRequest は cookie を優先し、無ければ Bearer を見る
func tokenFromRequest(c echo.Context) string {
	if ck, err := c.Cookie(SessionCookieName); err == nil && ck.Value != "" {
		return ck.Value
	}

	authz := c.Request().Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// セッションcookie（またはBearer）のJWT検証ミドルウェア。
func AuthJWT(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			s, err := ParseSession(cfg.JWTSecret, tokenFromRequest(c))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//contextへ保存
			c.Set(CtxUserIDKey, s.UserID)
			c.Set(CtxUserRoleKey, s.Role)
			c.Set(CtxTokenVersionKey, s.TokenVersion)

			return next(c)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func errorJSON(msg string) errorResponse {
	return errorResponse{Error: msg}
}

// user_idをint64に変換する
func parseUserID(v interface{}) (int64, error) {
	switch t := v.(type) {
	case float64:
		return int64(t), nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, errors.New("invalid sub")
	}
}

func parseString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", errors.New("invalid string")
	}
	return s, nil
}

func parseInt(v interface{}) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case int:
		return t, nil
	case string:
		i64, err := strconv.ParseInt(t, 10, 32)
		if err != nil {
			return 0, err
		}
		return int(i64), nil
	default:
		return 0, errors.New("invalid int")
	}
}
