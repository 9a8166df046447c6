package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/admin-dashboard-api/internal/apperr"
)

// HTTPErrorHandler writes every error that escaped a handler as the
// standard envelope.  Unexpected errors become a 500 whose details are
// only shown outside production.
func HTTPErrorHandler(production bool, logger logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			rej *apperr.Rejection
			he  *echo.HTTPError
		)
		switch {
		case errors.As(err, &rej):
			_ = apperr.Write(c, rej)
			return
		case errors.As(err, &he):
			msg := http.StatusText(he.Code)
			if s, ok := he.Message.(string); ok && s != "" {
				msg = s
			}
			_ = writeError(c, he.Code, apperr.Envelope{Success: false, Message: msg})
			return
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request().Method,
			"path":   c.Request().URL.Path,
		}).Error("unhandled error")

		env := apperr.Envelope{Success: false, Message: "Internal server error"}
		if !production {
			env.Details = err.Error()
		}
		_ = writeError(c, http.StatusInternalServerError, env)
	}
}

func writeError(c echo.Context, status int, env apperr.Envelope) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(status)
	}
	return c.JSON(status, env)
}
