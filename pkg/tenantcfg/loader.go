package tenantcfg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/chatterlinx/frontdesk/pkg/errorsx"
)

// ErrNotFound is returned when no configuration exists for a tenant.
var ErrNotFound = errors.New("tenant configuration not found")

// Source resolves a tenant's active configuration into an immutable
// snapshot. Implementations must return a Config that is never mutated
// after the call: concurrent calls share snapshots freely.
type Source interface {
	Snapshot(ctx context.Context, tenantID string) (*Config, error)
}

// FileSource loads tenant configuration from <dir>/<tenantID>.yaml.
type FileSource struct {
	dir string
}

func NewFileSource(dir string) *FileSource {
	return &FileSource{dir: dir}
}

func (s *FileSource) Snapshot(_ context.Context, tenantID string) (*Config, error) {
	if tenantID == "" || tenantID != filepath.Base(tenantID) {
		return nil, errorsx.Wrap(fmt.Errorf("invalid tenant id %q", tenantID), errorsx.ReasonConfigInvalid)
	}
	path := filepath.Join(s.dir, tenantID+".yaml")
	if _, err := os.Stat(path); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("%w: %s", ErrNotFound, tenantID), errorsx.ReasonConfigNotFound)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("version", 1)
	v.SetDefault("min_confidence", 0.6)
	v.SetDefault("required_booking_slots", []string{"name", "address", "problem"})
	if err := v.ReadInConfig(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("read tenant config %s: %w", tenantID, err), errorsx.ReasonConfigLoad)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("decode tenant config %s: %w", tenantID, err), errorsx.ReasonConfigLoad)
	}
	if cfg.TenantID == "" {
		cfg.TenantID = tenantID
	}
	if cfg.TenantID != tenantID {
		return nil, errorsx.Wrap(fmt.Errorf("tenant config %s declares tenant_id %q", tenantID, cfg.TenantID), errorsx.ReasonConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errorsx.Wrap(fmt.Errorf("tenant config %s: %w", tenantID, err), errorsx.ReasonConfigInvalid)
	}
	return &cfg, nil
}

// StaticSource serves fixed configurations, keyed by tenant id. Used in
// tests and the examples.
type StaticSource struct {
	configs map[string]*Config
}

func NewStaticSource(configs ...*Config) *StaticSource {
	m := make(map[string]*Config, len(configs))
	for _, c := range configs {
		m[c.TenantID] = c
	}
	return &StaticSource{configs: m}
}

func (s *StaticSource) Snapshot(_ context.Context, tenantID string) (*Config, error) {
	cfg, ok := s.configs[tenantID]
	if !ok {
		return nil, errorsx.Wrap(fmt.Errorf("%w: %s", ErrNotFound, tenantID), errorsx.ReasonConfigNotFound)
	}
	return cfg, nil
}
