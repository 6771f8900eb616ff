// Package registry loads the monitored-property registry from the blob store.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/singlethrowdata/scout/internal/blob"
	"github.com/singlethrowdata/scout/pkg/types"
)

// ConfigError is fatal for the run: no registry means nothing to monitor.
type ConfigError struct {
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "registry: " + e.Reason + ": " + e.Err.Error()
	}
	return "registry: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Registry resolves the set of properties to monitor.
type Registry struct {
	store  blob.Store
	path   string
	logger *slog.Logger
}

// New creates a registry reading from the given blob path
// (conventionally config/properties.json).
func New(store blob.Store, path string, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		path:   path,
		logger: logger.With("component", "registry"),
	}
}

// Load reads and decodes the registry, returning only configured properties.
// A missing, malformed, or effectively empty registry is a ConfigError.
func (r *Registry) Load(ctx context.Context) ([]types.Property, error) {
	data, err := r.store.Get(ctx, r.path)
	if err != nil {
		return nil, &ConfigError{Reason: "reading " + r.path, Err: err}
	}
	var reg types.PropertyRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, &ConfigError{Reason: "parsing " + r.path, Err: err}
	}
	configured := reg.Configured()
	if len(configured) == 0 {
		return nil, &ConfigError{Reason: "no configured properties"}
	}
	seen := make(map[string]struct{}, len(configured))
	for _, p := range configured {
		if p.PropertyID == "" {
			return nil, &ConfigError{Reason: "property with empty property_id"}
		}
		if _, dup := seen[p.PropertyID]; dup {
			return nil, &ConfigError{Reason: fmt.Sprintf("duplicate property_id %q", p.PropertyID)}
		}
		seen[p.PropertyID] = struct{}{}
	}
	r.logger.Info("registry loaded",
		"total", len(reg.Properties),
		"configured", len(configured),
	)
	return configured, nil
}

// Filter narrows properties to an explicit id list (the --properties flag).
// Unknown ids are a ConfigError so typos fail loudly.
func Filter(properties []types.Property, ids []string) ([]types.Property, error) {
	if len(ids) == 0 {
		return properties, nil
	}
	byID := make(map[string]types.Property, len(properties))
	for _, p := range properties {
		byID[p.PropertyID] = p
	}
	out := make([]types.Property, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, &ConfigError{Reason: fmt.Sprintf("unknown property %q", id)}
		}
		out = append(out, p)
	}
	return out, nil
}
