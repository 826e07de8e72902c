package histories

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/history"
	"github.com/labstack/echo/v4"
)

type (
	Store interface {
		ListDownloads() ([]*history.Record, error)
		GetDownload(uuid.UUID) (*history.Record, error)
	}

	Controller struct {
		store Store
	}
)

func New(store Store) *Controller {
	return &Controller{store: store}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("", controller.list)
	eg.GET("/:id", controller.get)
}

func (controller *Controller) list(ec echo.Context) error {
	records, err := controller.store.ListDownloads()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	return ec.JSON(http.StatusOK, records)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	record, err := controller.store.GetDownload(id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	return ec.JSON(http.StatusOK, record)
}
