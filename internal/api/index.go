package api

import (
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed web/index.html
var indexPage []byte

func serveIndex(ec echo.Context) error {
	return ec.HTMLBlob(http.StatusOK, indexPage)
}
