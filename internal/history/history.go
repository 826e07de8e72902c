// Package history persists a record of every completed download so that
// results survive restarts of Lyre.
package history

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Lyre/internal/event"
	"github.com/hbomb79/Lyre/pkg/logger"
)

var (
	log = logger.Get("History")

	ErrNotFound = errors.New("download does not exist in history")
)

type (
	// Record is a single completed download.
	Record struct {
		ID           uuid.UUID `db:"id" json:"id"`
		URL          string    `db:"url" json:"url"`
		Title        string    `db:"title" json:"title"`
		Folder       string    `db:"folder" json:"folder"`
		Files        []string  `db:"-" json:"files"`
		TotalTime    float64   `db:"total_time" json:"total_time"`
		TotalSpaceMB float64   `db:"total_space_mb" json:"total_space_mb"`
		CreatedAt    time.Time `db:"created_at" json:"created_at"`
		CompletedAt  time.Time `db:"completed_at" json:"completed_at"`
	}

	Store interface {
		SaveDownload(*Record) error
		GetDownload(uuid.UUID) (*Record, error)
		ListDownloads() ([]*Record, error)
		GetDownloadsForFolder(string) ([]*Record, error)
		DeleteDownloadsForFolder(string) error
	}
)

// PruneRemovedFolders deletes the history of any library folder which is
// removed from disk.
func PruneRemovedFolders(store Store, handler event.EventHandler) {
	handler.RegisterAsyncHandlerFunction(event.LibraryFolderRemovedEvent, func(_ event.Event, payload event.Payload) {
		folder, ok := payload.(string)
		if !ok {
			return
		}

		if err := store.DeleteDownloadsForFolder(folder); err != nil {
			log.Errorf("Failed to prune history for removed folder %s: %v\n", folder, err)
			return
		}

		log.Infof("Pruned history for removed folder %s\n", folder)
	})
}
