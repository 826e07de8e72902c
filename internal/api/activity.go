package api

import (
	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/api/downloads"
	"github.com/hbomb79/Lyre/internal/download"
	"github.com/hbomb79/Lyre/internal/http/websocket"
)

const (
	TITLE_DOWNLOAD_UPDATE   = "DOWNLOAD_UPDATE"
	TITLE_DOWNLOAD_PROGRESS = "DOWNLOAD_PROGRESS"
	TITLE_DOWNLOAD_COMPLETE = "DOWNLOAD_COMPLETE"
	TITLE_TASK_DETAILS      = "TASK_DETAILS"

	COMMAND_TASK_DETAILS = "TASK_DETAILS"
)

type (
	taskDetailsArgs struct {
		ID uuid.UUID `mapstructure:"id"`
	}

	broadcaster struct {
		socketHub       *websocket.SocketHub
		downloadService downloads.Service
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, downloadService downloads.Service) *broadcaster {
	return &broadcaster{socketHub, downloadService}
}

func (hub *broadcaster) BroadcastDownloadUpdate(id uuid.UUID) error {
	return hub.broadcastTask(TITLE_DOWNLOAD_UPDATE, id)
}

func (hub *broadcaster) BroadcastDownloadProgress(id uuid.UUID) error {
	return hub.broadcastTask(TITLE_DOWNLOAD_PROGRESS, id)
}

func (hub *broadcaster) BroadcastDownloadComplete(id uuid.UUID) error {
	return hub.broadcastTask(TITLE_DOWNLOAD_COMPLETE, id)
}

func (hub *broadcaster) broadcastTask(title string, id uuid.UUID) error {
	task := hub.downloadService.Task(id)
	if task == nil {
		return download.ErrTaskNotFound
	}

	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]any{"task_id": id, "task": task.Snapshot()},
		Type:  websocket.Update,
	})

	return nil
}

// connectionPayload is sent to every newly connected socket client so
// it can render the current tasks without waiting for an update.
func (hub *broadcaster) connectionPayload() map[string]any {
	tasks := hub.downloadService.AllTasks()
	snapshots := make([]download.TaskSnapshot, len(tasks))
	for i, task := range tasks {
		snapshots[i] = task.Snapshot()
	}

	return map[string]any{"tasks": snapshots}
}

func (hub *broadcaster) handleTaskDetailsCommand(socket *websocket.SocketHub, command *websocket.SocketMessage) error {
	var args taskDetailsArgs
	if err := command.DecodeArguments(&args); err != nil {
		return err
	}

	task := hub.downloadService.Task(args.ID)
	if task == nil {
		return download.ErrTaskNotFound
	}

	socket.Send(command.FormReply(TITLE_TASK_DETAILS, map[string]any{"task": task.Snapshot()}, websocket.Response))
	return nil
}
