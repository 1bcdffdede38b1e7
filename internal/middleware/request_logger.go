package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

const ctxLoggerKey = "logger"

// RequestLogger はリクエスト単位の logrus エントリを context に入れ、終了時に1行出す。
// RequestID より後に置く。
func RequestLogger(log logrus.FieldLogger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:       true,
		LogMethod:    true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		HandleError:  true,
		BeforeNextFunc: func(c echo.Context) {
			rid := c.Response().Header().Get(echo.HeaderXRequestID)
			c.Set(ctxLoggerKey, log.WithField("request_id", rid))
		},
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			entry := Logger(c).WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
				"remote_ip":  v.RemoteIP,
			})
			switch {
			case v.Status >= 500:
				entry.WithError(v.Error).Error("request")
			case v.Status >= 400:
				entry.Warn("request")
			default:
				entry.Info("request")
			}
			return nil
		},
	})
}

// Logger はリクエストのロガー。ミドルウェア外では標準ロガー。
func Logger(c echo.Context) logrus.FieldLogger {
	if l, ok := c.Get(ctxLoggerKey).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}
