package downloads

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/download"
	"github.com/hbomb79/Lyre/internal/youtube"
	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/labstack/echo/v4"
)

var controllerLogger = logger.Get("DownloadsController")

const (
	invalidURLMessage     = "Invalid YouTube URL."
	invalidTaskIDMessage  = "Invalid task ID"
	taskIncompleteMessage = "Task not complete"
)

type (
	StartRequest struct {
		YoutubeURL string `json:"youtube_url" validate:"required"`
	}

	StartResponse struct {
		TaskID uuid.UUID `json:"task_id"`
	}

	// ProgressDto is the response for the progress of a task. The percent
	// is omitted once a task has finished or failed.
	ProgressDto struct {
		Status  download.TaskStatus `json:"status"`
		Percent *float64            `json:"percent,omitempty"`
		Error   *string             `json:"error,omitempty"`
	}

	ResultResponse struct {
		Result *download.Result `json:"result"`
	}

	Service interface {
		NewTask(url string) (uuid.UUID, error)
		Task(id uuid.UUID) *download.DownloadTask
		AllTasks() []*download.DownloadTask
		CancelTask(id uuid.UUID) error
		Result(id uuid.UUID) (*download.Result, error)
	}

	// Controller is the struct which is responsible for defining the
	// routes for starting, monitoring and cancelling downloads.
	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/start", controller.start)
	eg.GET("/progress/:task_id", controller.progress)
	eg.GET("/result/:task_id", controller.result)
	eg.GET("/tasks", controller.list)
	eg.GET("/tasks/:task_id", controller.get)
	eg.DELETE("/tasks/:task_id", controller.cancel)
}

// start queues a new download for the YouTube URL provided in the request body.
// The body is always parsed as JSON, whatever Content-Type the client sent.
func (controller *Controller) start(ec echo.Context) error {
	var request StartRequest
	if err := json.NewDecoder(ec.Request().Body).Decode(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, invalidURLMessage).SetInternal(err)
	}
	if err := ec.Validate(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, invalidURLMessage).SetInternal(err)
	}

	id, err := controller.service.NewTask(request.YoutubeURL)
	if err != nil {
		if errors.Is(err, youtube.ErrInvalidURL) {
			return echo.NewHTTPError(http.StatusBadRequest, invalidURLMessage)
		}

		controllerLogger.Emit(logger.ERROR, "Failed to create download task: %v\n", err)
		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	return ec.JSON(http.StatusAccepted, StartResponse{TaskID: id})
}

// progress reports the status of the task. Failed tasks report their
// error, and completed tasks report only their status.
func (controller *Controller) progress(ec echo.Context) error {
	task, err := controller.taskFromParam(ec)
	if err != nil {
		return err
	}

	snapshot := task.Snapshot()
	switch snapshot.Status {
	case download.ERROR:
		return ec.JSON(http.StatusOK, ProgressDto{Status: snapshot.Status, Error: &snapshot.Error})
	case download.DONE:
		return ec.JSON(http.StatusOK, ProgressDto{Status: snapshot.Status})
	default:
		return ec.JSON(http.StatusOK, ProgressDto{Status: snapshot.Status, Percent: &snapshot.Percent})
	}
}

// result returns the result of a completed task.
func (controller *Controller) result(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("task_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, invalidTaskIDMessage)
	}

	result, err := controller.service.Result(id)
	if err != nil {
		switch {
		case errors.Is(err, download.ErrTaskNotFound):
			return echo.NewHTTPError(http.StatusNotFound, invalidTaskIDMessage)
		case errors.Is(err, download.ErrTaskNotComplete):
			return echo.NewHTTPError(http.StatusBadRequest, taskIncompleteMessage)
		default:
			return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
		}
	}

	return ec.JSON(http.StatusOK, ResultResponse{Result: result})
}

// list returns a snapshot of every task known to the service.
func (controller *Controller) list(ec echo.Context) error {
	tasks := controller.service.AllTasks()
	dtos := make([]download.TaskSnapshot, len(tasks))
	for k, v := range tasks {
		dtos[k] = v.Snapshot()
	}

	return ec.JSON(http.StatusOK, dtos)
}

func (controller *Controller) get(ec echo.Context) error {
	task, err := controller.taskFromParam(ec)
	if err != nil {
		return err
	}

	return ec.JSON(http.StatusOK, task.Snapshot())
}

// cancel uses the 'task_id' path param to find and cancel a task. Tasks which
// have already finished are unaffected.
func (controller *Controller) cancel(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("task_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, invalidTaskIDMessage)
	}

	if err := controller.service.CancelTask(id); err != nil {
		if errors.Is(err, download.ErrTaskNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, invalidTaskIDMessage)
		}

		return echo.NewHTTPError(http.StatusInternalServerError).SetInternal(err)
	}

	return ec.NoContent(http.StatusNoContent)
}

func (controller *Controller) taskFromParam(ec echo.Context) (*download.DownloadTask, error) {
	id, err := uuid.Parse(ec.Param("task_id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, invalidTaskIDMessage)
	}

	task := controller.service.Task(id)
	if task == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, invalidTaskIDMessage)
	}

	return task, nil
}
