package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/singlethrowdata/scout/internal/blob"
	"github.com/singlethrowdata/scout/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memStore struct {
	blobs map[string][]byte
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.blobs[key] = data
	return nil
}

const registryJSON = `{
  "properties": [
    {"property_id": "prop-1", "client_name": "Acme", "domain": "acme.com",
     "conversion_events": "purchase, signup", "is_configured": true},
    {"property_id": "prop-2", "client_name": "Beta", "is_configured": false},
    {"property_id": "prop-3", "client_name": "Gamma", "is_configured": true}
  ]
}`

func TestLoadFiltersConfigured(t *testing.T) {
	store := &memStore{blobs: map[string][]byte{"config/properties.json": []byte(registryJSON)}}
	r := New(store, "config/properties.json", testLogger())

	props, err := r.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(props) != 2 {
		t.Fatalf("got %d properties, want 2 configured", len(props))
	}
	if props[0].PropertyID != "prop-1" || props[1].PropertyID != "prop-3" {
		t.Errorf("unexpected properties: %+v", props)
	}
	events := props[0].ConversionEventList()
	if len(events) != 2 || events[0] != "purchase" || events[1] != "signup" {
		t.Errorf("conversion events = %v", events)
	}
}

func TestLoadMissingRegistryIsConfigError(t *testing.T) {
	r := New(&memStore{blobs: map[string][]byte{}}, "config/properties.json", testLogger())

	_, err := r.Load(context.Background())
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestLoadEmptyEnabledSetIsConfigError(t *testing.T) {
	store := &memStore{blobs: map[string][]byte{
		"config/properties.json": []byte(`{"properties":[{"property_id":"x","is_configured":false}]}`),
	}}
	r := New(store, "config/properties.json", testLogger())

	var cfgErr *ConfigError
	if _, err := r.Load(context.Background()); !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError for empty enabled set", err)
	}
}

func TestLoadDuplicateIDIsConfigError(t *testing.T) {
	store := &memStore{blobs: map[string][]byte{
		"config/properties.json": []byte(`{"properties":[
			{"property_id":"x","is_configured":true},
			{"property_id":"x","is_configured":true}]}`),
	}}
	r := New(store, "config/properties.json", testLogger())

	var cfgErr *ConfigError
	if _, err := r.Load(context.Background()); !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError for duplicate ids", err)
	}
}

func TestFilter(t *testing.T) {
	props := []types.Property{{PropertyID: "a"}, {PropertyID: "b"}}

	got, err := Filter(props, []string{"b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].PropertyID != "b" {
		t.Errorf("filtered = %+v, want [b]", got)
	}

	if _, err := Filter(props, []string{"zz"}); err == nil {
		t.Error("expected ConfigError for unknown id")
	}

	got, err = Filter(props, nil)
	if err != nil || len(got) != 2 {
		t.Errorf("empty filter must pass everything through")
	}
}
