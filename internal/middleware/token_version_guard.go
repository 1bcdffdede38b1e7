package middleware

import (
	"net/http"

	"brickshop/internal/repository"

	"github.com/labstack/echo/v4"
)

// JWTのtvとDBのtoken_versionが一致するか確認。無効化されたユーザーも弾く。
func TokenVersionGuard(userRepo repository.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			//AuthJWTが入れたuser_id を取得する
			userID, ok := c.Get(CtxUserIDKey).(int64)
			if !ok || userID <= 0 {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			tv, ok := c.Get(CtxTokenVersionKey).(int)
			if !ok || tv < 0 {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//DBから最新のuserを取得する
			user, err := userRepo.FindByID(c.Request().Context(), userID)
			if err != nil || user == nil {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//token_version が一致しなければ強制ログアウト扱い（401）
			if user.TokenVersion != tv || !user.IsActive {
				return c.JSON(http.StatusUnauthorized, errorJSON("unauthorized"))
			}

			//roleはDBの値を正とする
			c.Set(CtxUserRoleKey, string(user.Role))

			return next(c)
		}
	}
}
