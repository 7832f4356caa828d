package entitlements

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/pilotgate/pkg/observability"
)

// overrideFile is the on-disk layout read by FileSource:
//
//	overrides:
//	  9b2f5f3e-4d6c-4f0e-9f39-0d6a3f1d1c11:
//	    limits_bias_runs_per_day: 10
type overrideFile struct {
	Overrides map[string]map[string]string `yaml:"overrides"`
}

// FileSource serves overrides from a YAML file and reloads it when the
// file changes. Used in development and single-node deployments without
// Postgres.
type FileSource struct {
	*MapSource
	path   string
	logger *observability.Logger
}

// NewFileSource loads path and returns a FileSource
func NewFileSource(path string, logger *observability.Logger) (*FileSource, error) {
	fs := &FileSource{
		MapSource: NewMapSource(),
		path:      path,
		logger:    logger,
	}
	if err := fs.Load(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Load re-reads the file. On error the previous table is kept.
func (fs *FileSource) Load() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return fmt.Errorf("failed to read overrides file: %w", err)
	}

	var file overrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse overrides file: %w", err)
	}

	table := make(map[uuid.UUID]map[string]string, len(file.Overrides))
	for rawID, features := range file.Overrides {
		orgID, err := uuid.Parse(rawID)
		if err != nil {
			return fmt.Errorf("invalid organization id %q in overrides file: %w", rawID, err)
		}
		table[orgID] = features
	}

	fs.Replace(table)
	return nil
}

// Watch reloads the file on every write until ctx is done. The parent
// directory is watched so atomic rename-on-save editors are handled.
func (fs *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", fs.path, err)
	}

	go func() {
		defer watcher.Close()
		defer observability.RecoverPanic(fs.logger, "override file watcher")

		target := filepath.Clean(fs.path)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := fs.Load(); err != nil {
					fs.logger.WithError(err).Error("Failed to reload entitlement overrides")
					continue
				}
				fs.logger.WithField("path", fs.path).Info("Reloaded entitlement overrides")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fs.logger.WithError(err).Warn("Override file watcher error")
			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}
