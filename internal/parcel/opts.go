package parcel

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"sos/internal/config"
	"sos/internal/safe"
	"sos/internal/storage"
	"sos/internal/workspace"
)

// openStores opens the blob store, the metadata backend and the working
// tree of the repository at root. create makes a new metadata folder.
func openStores(root string, cfg *config.Config, backend string, create bool, logger *zap.Logger) (*workspace.LocalWorkspace, *safe.Safe, storage.Backend, error) {
	ws, err := workspace.NewLocalWorkspace(root, cfg.Ignores, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening working tree: %w", err)
	}

	store, err := safe.New(safe.Options{
		CacheSize: cfg.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing content safe: %w", err)
	}

	var be storage.Backend
	if create {
		be, err = storage.Create(ws.MetaDir(), backend)
	} else {
		be, err = storage.Open(ws.MetaDir())
	}
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("opening metadata: %w", err)
	}

	return ws, store, be, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
