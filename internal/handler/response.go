package handler

import (
	"errors"
	"net/http"
	"strconv"

	"brickshop/internal/middleware"
	"brickshop/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// 本番では5xxの文言を出さない
var hideInternal bool

// HideInternalErrors は起動時に一度だけ呼ぶ
func HideInternalErrors(hide bool) {
	hideInternal = hide
}

// writeError は usecase のエラーをレスポンスにする唯一の場所
func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	status, body := http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	if he, ok := usecase.AsHTTPError(err); ok {
		status, body = he.Status, ErrorResponse{Error: he.Message, Fields: he.Fields}
	} else {
		switch {
		case errors.Is(err, usecase.ErrValidation):
			status, body.Error = http.StatusBadRequest, "validation error"
		case errors.Is(err, usecase.ErrUnauthorized):
			status, body.Error = http.StatusUnauthorized, "unauthorized"
		case errors.Is(err, usecase.ErrForbidden):
			status, body.Error = http.StatusForbidden, "forbidden"
		case errors.Is(err, usecase.ErrNotFound):
			status, body.Error = http.StatusNotFound, "not found"
		case errors.Is(err, usecase.ErrConflict):
			status, body.Error = http.StatusConflict, "conflict"
		}
	}

	if status >= http.StatusInternalServerError {
		middleware.Logger(c).WithError(err).WithField("status", status).Error("request failed")
		if hideInternal {
			body = ErrorResponse{Error: "internal error"}
		}
	}
	return c.JSON(status, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func currentUserID(c echo.Context) (int64, bool) {
	id, ok := c.Get(middleware.CtxUserIDKey).(int64)
	return id, ok && id > 0
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
}

func paramID(c echo.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}

// クエリの整数（空なら def）
func queryInt(c echo.Context, name string, def int) (int, bool) {
	v := c.QueryParam(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
