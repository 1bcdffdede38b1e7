package server

import (
	"strings"

	"brickshop/internal/config"
	"brickshop/internal/handler"
	"brickshop/internal/middleware"
	"brickshop/internal/repository"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Handlers は main で組み立てたハンドラ一式
type Handlers struct {
	Users repository.UserRepository

	Auth         *handler.AuthHandler
	Products     *handler.ProductHandler
	AdminProduct *handler.AdminProductHandler
	Cart         *handler.CartHandler
	Address      *handler.AddressHandler
	Coupon       *handler.CouponHandler
	Shipping     *handler.ShippingHandler
	Orders       *handler.OrderHandler
	Guest        *handler.GuestHandler
	Webhooks     *handler.WebhookHandler
	AdminOrders  *handler.AdminOrderHandler
	AdminUsers   *handler.AdminUserHandler

	//ローカル保存のときだけ /uploads を配信
	UploadDir string
	UploadURL string
}

func registerRoutes(e *echo.Echo, cfg config.Config, h Handlers) {
	session := []echo.MiddlewareFunc{
		middleware.AuthJWT(cfg),
		middleware.TokenVersionGuard(h.Users),
	}
	gd := handler.Guards{
		Session: session,
		Admin:   append(append([]echo.MiddlewareFunc{}, session...), middleware.AdminRoleGuard()),
	}

	api := e.Group("/api")

	h.Auth.RegisterRoutes(api, gd)
	h.Products.RegisterRoutes(api)
	h.AdminProduct.RegisterRoutes(api, gd)
	h.Cart.RegisterRoutes(api, gd)
	h.Address.RegisterRoutes(api, gd)
	h.Coupon.RegisterRoutes(api, gd)
	h.Shipping.RegisterRoutes(api, gd)
	h.Orders.RegisterRoutes(api, gd)
	h.Guest.RegisterRoutes(api, gd)
	h.Webhooks.RegisterRoutes(api)
	h.AdminOrders.RegisterRoutes(api, gd)
	h.AdminUsers.RegisterRoutes(api, gd)

	if h.UploadDir != "" && h.UploadURL != "" {
		e.Static(h.UploadURL, h.UploadDir)
	}

	//フロントのビルド成果物（SPA）
	if cfg.FrontendDir != "" {
		e.Use(middleware.PageGuard(cfg))
		e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
			Root:  cfg.FrontendDir,
			HTML5: true,
			Skipper: func(c echo.Context) bool {
				p := c.Request().URL.Path
				return p == "/api" || strings.HasPrefix(p, "/api/")
			},
		}))
	}
}
