package badger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/xhspub/internal/common"
	"github.com/ternarybob/xhspub/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// Manager owns the badgerhold store and the storages built on it
type Manager struct {
	store  *badgerhold.Store
	tasks  *TaskStorage
	path   string
	logger arbor.ILogger
}

// NewManager opens (or creates) the database at config.Path.
// With ResetOnStartup the directory is wiped first, dropping all task history.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	if config.Path == "" {
		return nil, errors.New("storage.badger.path is required")
	}

	if config.ResetOnStartup {
		logger.Warn().Str("path", config.Path).Msg("Resetting task history (reset_on_startup)")
		if err := os.RemoveAll(config.Path); err != nil {
			return nil, fmt.Errorf("reset badger directory %s: %w", config.Path, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create badger parent directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Msg("Task history store opened")

	return &Manager{
		store:  store,
		tasks:  NewTaskStorage(store, logger),
		path:   config.Path,
		logger: logger,
	}, nil
}

func (m *Manager) TaskStorage() interfaces.TaskStorage {
	return m.tasks
}

// Close releases the database; storages obtained from the manager are unusable afterwards
func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	err := m.store.Close()
	m.store = nil
	if err != nil {
		return fmt.Errorf("close badger at %s: %w", m.path, err)
	}
	return nil
}
