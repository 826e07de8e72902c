package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/labstack/echo/v4"
)

// httpErrorHandler renders every error returned from a handler (or
// middleware) as a JSON body of the form {"error": "<message>"}.
func httpErrorHandler(err error, ec echo.Context) {
	if ec.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := http.StatusText(code)

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		switch m := httpErr.Message.(type) {
		case string:
			message = m
		case nil:
			message = http.StatusText(code)
		default:
			message = fmt.Sprint(m)
		}

		if httpErr.Internal != nil {
			log.Emit(logger.DEBUG, "%s %s failed (%d): %v\n", ec.Request().Method, ec.Request().URL.Path, code, httpErr.Internal)
		}
	} else {
		log.Emit(logger.ERROR, "%s %s failed: %v\n", ec.Request().Method, ec.Request().URL.Path, err)
	}

	var respErr error
	if ec.Request().Method == http.MethodHead {
		respErr = ec.NoContent(code)
	} else {
		respErr = ec.JSON(code, map[string]string{"error": message})
	}

	if respErr != nil {
		log.Emit(logger.WARNING, "Failed to write error response: %v\n", respErr)
	}
}
