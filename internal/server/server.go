package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// 終了時に処理中リクエストを待つ時間
const shutdownTimeout = 10 * time.Second

type Server struct {
	e   *echo.Echo
	cfg config.Config
	log logrus.FieldLogger
}

// New はミドルウェアとルートを組んだechoを返す
func New(cfg config.Config, log logrus.FieldLogger, h Handlers) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{strings.TrimRight(cfg.FEURL, "/")},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Idempotency-Key"},
		AllowCredentials: true,
	}))
	//画像アップロードの 5MB + multipart の余白
	e.Use(echomw.BodyLimit("6M"))

	registerRoutes(e, cfg, h)

	return &Server{e: e, cfg: cfg, log: log}
}

// Echo はテスト用
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// Start は ctx が終わるまで待ち、終わったら graceful に止める
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr()).Info("server started")
		if err := s.e.Start(s.cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.log.Info("shutting down")
	return s.e.Shutdown(shutdownCtx)
}
