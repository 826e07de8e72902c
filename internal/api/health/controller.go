package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const versionTimeout = 10 * time.Second

type (
	// VersionChecker reports the version of the yt-dlp binary Lyre drives. A
	// failure to report the version means downloads cannot succeed.
	VersionChecker interface {
		Version(ctx context.Context) (string, error)
	}

	Response struct {
		Status       string `json:"status"`
		YtdlpVersion string `json:"ytdlp_version,omitempty"`
		Error        string `json:"error,omitempty"`
	}

	Controller struct {
		checker VersionChecker
	}
)

func New(checker VersionChecker) *Controller {
	return &Controller{checker: checker}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.get)
}

func (controller *Controller) get(ec echo.Context) error {
	ctx, cancel := context.WithTimeout(ec.Request().Context(), versionTimeout)
	defer cancel()

	version, err := controller.checker.Version(ctx)
	if err != nil {
		return ec.JSON(http.StatusServiceUnavailable, Response{Status: "degraded", Error: err.Error()})
	}

	return ec.JSON(http.StatusOK, Response{Status: "ok", YtdlpVersion: version})
}
