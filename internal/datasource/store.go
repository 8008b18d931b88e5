package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/embediq/backend/internal/sanitize"
)

// Store persists data source configurations as one JSON file per
// configuration under <base>/<tenant>/datasources/. The layout lives inside
// the tenant's working directory, so eviction and tenant purges leave the
// configurations untouched while directory-level cleanup removes them with
// everything else.
type Store struct {
	baseDir string
	logger  *zap.Logger
}

// NewStore creates a file-backed configuration store rooted at baseDir.
func NewStore(baseDir string, logger *zap.Logger) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

// Save stores a new configuration, assigning an ID when absent.
func (s *Store) Save(_ context.Context, tenantID string, cfg Config) (Config, error) {
	dir, err := s.tenantDir(tenantID)
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Config{}, fmt.Errorf("creating datasource directory: %w", err)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	} else if _, err := uuid.Parse(cfg.ID); err != nil {
		return Config{}, fmt.Errorf("%w: id must be a UUID", ErrInvalidConfig)
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	if err := s.write(dir, cfg); err != nil {
		return Config{}, err
	}

	s.logger.Info("datasource configuration saved",
		zap.String("tenant_id", tenantID),
		zap.String("datasource_id", cfg.ID),
		zap.String("type", cfg.Type))
	return cfg, nil
}

// Get returns the configuration with the given ID.
func (s *Store) Get(_ context.Context, tenantID, id string) (Config, error) {
	path, err := s.configPath(tenantID, id)
	if err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return Config{}, fmt.Errorf("reading datasource configuration: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding datasource configuration %s: %w", id, err)
	}
	return cfg, nil
}

// List returns the tenant's configurations, oldest first.
func (s *Store) List(_ context.Context, tenantID string) ([]Config, error) {
	dir, err := s.tenantDir(tenantID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing datasource configurations: %w", err)
	}

	var configs []Config
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading datasource configuration %s: %w", entry.Name(), err)
		}
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			s.logger.Warn("skipping unreadable datasource configuration",
				zap.String("tenant_id", tenantID),
				zap.String("file", entry.Name()),
				zap.Error(err))
			continue
		}
		configs = append(configs, cfg)
	}

	sort.Slice(configs, func(i, j int) bool {
		if configs[i].CreatedAt.Equal(configs[j].CreatedAt) {
			return configs[i].Name < configs[j].Name
		}
		return configs[i].CreatedAt.Before(configs[j].CreatedAt)
	})
	return configs, nil
}

// Update replaces an existing configuration, preserving its creation time.
func (s *Store) Update(ctx context.Context, tenantID, id string, cfg Config) (Config, error) {
	existing, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Config{}, err
	}

	cfg.ID = existing.ID
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = time.Now().UTC()

	dir, err := s.tenantDir(tenantID)
	if err != nil {
		return Config{}, err
	}
	if err := s.write(dir, cfg); err != nil {
		return Config{}, err
	}

	s.logger.Info("datasource configuration updated",
		zap.String("tenant_id", tenantID),
		zap.String("datasource_id", cfg.ID))
	return cfg, nil
}

// Delete removes a configuration. Returns ErrNotFound when absent.
func (s *Store) Delete(_ context.Context, tenantID, id string) error {
	path, err := s.configPath(tenantID, id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("deleting datasource configuration: %w", err)
	}

	s.logger.Info("datasource configuration deleted",
		zap.String("tenant_id", tenantID),
		zap.String("datasource_id", id))
	return nil
}

// write persists cfg atomically: temp file in the same directory, then
// rename over the target.
func (s *Store) write(dir string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding datasource configuration: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("writing datasource configuration: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("writing datasource configuration: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing datasource configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing datasource configuration: %w", err)
	}

	return os.Rename(tmp.Name(), filepath.Join(dir, cfg.ID+".json"))
}

// tenantDir validates the tenant ID before deriving its directory so an
// unsafe ID can never reach a path operation.
func (s *Store) tenantDir(tenantID string) (string, error) {
	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, tenantID, "datasources"), nil
}

// configPath additionally requires the configuration ID to be a UUID, which
// keeps stored file names opaque and traversal-free.
func (s *Store) configPath(tenantID, id string) (string, error) {
	dir, err := s.tenantDir(tenantID)
	if err != nil {
		return "", err
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return filepath.Join(dir, id+".json"), nil
}
