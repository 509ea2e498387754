package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/a-chmielewski/endtoend-etl-openmeteo/internal/support/logger"
)

// Provider resolves named storage connections from raw configuration entries
// and caches them for reuse.
type Provider struct {
	configs     map[string]interface{}
	connections map[string]Connection
	mu          sync.RWMutex
}

// NewProvider creates a Provider over the raw `etl.storage` configuration map.
func NewProvider(configs map[string]interface{}) *Provider {
	return &Provider{
		configs:     configs,
		connections: make(map[string]Connection),
	}
}

// GetConnection returns the cached connection for name, establishing it on
// first use.
func (p *Provider) GetConnection(ctx context.Context, name string) (Connection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Double-check after acquiring the write lock.
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	raw, ok := p.configs[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration for name '%s' not found", name)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &cfg,
		TagName: "yaml",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder for storage config '%s': %w", name, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}

	switch cfg.Type {
	case "local":
		conn, err = NewLocalConnection(cfg, name)
	case "gcs":
		conn, err = NewGCSConnection(ctx, cfg, name)
	default:
		return nil, fmt.Errorf("unsupported storage type '%s' for connection '%s'", cfg.Type, name)
	}
	if err != nil {
		return nil, err
	}

	p.connections[name] = conn
	logger.Debugf("Created new storage connection '%s' (%s).", name, cfg.Type)
	return conn, nil
}

// CloseAll closes every cached connection.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close storage connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}
