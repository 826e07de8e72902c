package files

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hbomb79/Lyre/internal/library"
	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/labstack/echo/v4"
)

var controllerLogger = logger.Get("FilesController")

const zipContentType = "application/zip"

type (
	// Library resolves folder and file names to paths beneath the
	// download directory.
	Library interface {
		Resolve(folder string, file ...string) (string, error)
	}

	// Controller serves the files produced by completed downloads, either
	// individually or as a zip archive of an entire folder.
	Controller struct {
		library Library
	}
)

func New(lib Library) *Controller {
	return &Controller{library: lib}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/zip/:directory", controller.zip)
	eg.GET("/:directory/:filename", controller.file)
}

// zip archives every file in the directory and returns it as an
// attachment named after the directory.
func (controller *Controller) zip(ec echo.Context) error {
	directory, err := pathParam(ec, "directory")
	if err != nil {
		return err
	}

	path, err := controller.resolve(directory)
	if err != nil {
		return err
	}

	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	var buf bytes.Buffer
	if err := library.WriteArchive(&buf, path); err != nil {
		controllerLogger.Emit(logger.ERROR, "Failed to archive %s: %v\n", path, err)
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	ec.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", directory+".zip"))
	return ec.Blob(http.StatusOK, zipContentType, buf.Bytes())
}

// file returns a single file from the directory as an attachment.
func (controller *Controller) file(ec echo.Context) error {
	directory, err := pathParam(ec, "directory")
	if err != nil {
		return err
	}
	filename, err := pathParam(ec, "filename")
	if err != nil {
		return err
	}

	path, err := controller.resolve(directory, filename)
	if err != nil {
		return err
	}

	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	if mtype, err := mimetype.DetectFile(path); err == nil {
		ec.Response().Header().Set(echo.HeaderContentType, mtype.String())
	} else {
		controllerLogger.Emit(logger.WARNING, "Failed to detect content type of %s: %v\n", path, err)
	}

	return ec.Attachment(path, filename)
}

// pathParam returns the unescaped value of the named path param. Echo
// matches routes against the raw (escaped) path when one is present, so
// names containing reserved characters arrive percent-encoded.
func pathParam(ec echo.Context, name string) (string, error) {
	value := ec.Param(name)
	if ec.Request().URL.RawPath == "" {
		return value, nil
	}

	value, err := url.PathUnescape(value)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusNotFound).SetInternal(err)
	}

	return value, nil
}

func (controller *Controller) resolve(folder string, file ...string) (string, error) {
	path, err := controller.library.Resolve(folder, file...)
	if err == nil {
		return path, nil
	}

	if errors.Is(err, library.ErrFolderNotFound) || errors.Is(err, library.ErrIllegalPath) {
		return "", echo.NewHTTPError(http.StatusNotFound).SetInternal(err)
	}

	return "", echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
}
