package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"brickshop/internal/config"
	"brickshop/internal/domain/model"

	"github.com/labstack/echo/v4"
)

// PageGuard はフロントのページ配信前の確認。
// /checkout は未ログインなら /login?next= へ、/dashboard はadmin以外 403。
func PageGuard(cfg config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path

			switch {
			case pathUnder(path, "/checkout"):
				if _, err := ParseSession(cfg.JWTSecret, tokenFromRequest(c)); err != nil {
					return c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request().URL.RequestURI()))
				}
			case pathUnder(path, "/dashboard"):
				s, err := ParseSession(cfg.JWTSecret, tokenFromRequest(c))
				if err != nil {
					return c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request().URL.RequestURI()))
				}
				if s.Role != string(model.RoleAdmin) {
					return c.String(http.StatusForbidden, "forbidden")
				}
			}

			return next(c)
		}
	}
}

func pathUnder(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
