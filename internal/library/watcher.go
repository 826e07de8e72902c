package library

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hbomb79/Lyre/internal/event"
	"github.com/hbomb79/Lyre/pkg/logger"
	"github.com/rjeczalik/notify"
)

const watchBufferSize = 16

// Watcher listens for folders being removed from the library (by hand or
// by another process) and dispatches an event naming the removed folder.
type Watcher struct {
	basePath   string
	dispatcher event.EventDispatcher
}

func NewWatcher(lib *Library, dispatcher event.EventDispatcher) *Watcher {
	return &Watcher{basePath: lib.basePath, dispatcher: dispatcher}
}

func (watcher *Watcher) Run(ctx context.Context) error {
	fsNotifyChannel := make(chan notify.EventInfo, watchBufferSize)
	if err := notify.Watch(watcher.basePath, fsNotifyChannel, notify.Remove, notify.Rename); err != nil {
		// History pruning is best-effort, Lyre is still usable without it
		log.Emit(logger.WARNING, "Unable to watch library %s for removed folders: %v\n", watcher.basePath, err)
		return nil
	}
	defer notify.Stop(fsNotifyChannel)

	log.Emit(logger.NEW, "Watching library %s for removed folders\n", watcher.basePath)
	for {
		select {
		case ev := <-fsNotifyChannel:
			watcher.handle(ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (watcher *Watcher) handle(ev notify.EventInfo) {
	path := ev.Path()
	if filepath.Dir(path) != watcher.basePath {
		return
	}

	// Renames are reported for both the old and new path
	if _, err := os.Stat(path); !errors.Is(err, fs.ErrNotExist) {
		return
	}

	folder := filepath.Base(path)
	log.Emit(logger.INFO, "Library folder %s was removed\n", folder)
	watcher.dispatcher.Dispatch(event.LibraryFolderRemovedEvent, folder)
}
