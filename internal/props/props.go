// Package props resolves the operator-set properties the relay depends on,
// most importantly the identifier of the spreadsheet backing the form.
//
// Properties are never cached: each lookup goes back to the source, so an
// operator can repoint the relay without a restart.
package props

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"formrelay/internal/storage"
)

// ErrConfigurationMissing is returned when the data-source property is unset or blank.
var ErrConfigurationMissing = errors.New("configuration missing")

// ErrReadOnly is returned when writing to a source that cannot be written.
var ErrReadOnly = errors.New("property source is read-only")

// Source looks up a single named property.
type Source interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
}

// Writer is implemented by sources that can be changed at runtime.
type Writer interface {
	Set(ctx context.Context, key, value string) error
	Unset(ctx context.Context, key string) error
}

// Resolver reads the data-source identifier from a Source.
type Resolver struct {
	src Source
	key string
}

func NewResolver(src Source, key string) *Resolver {
	return &Resolver{src: src, key: strings.TrimSpace(key)}
}

func (r *Resolver) Key() string { return r.key }

// ResolveDataSourceID returns the configured identifier. It never returns an
// empty identifier without an error.
func (r *Resolver) ResolveDataSourceID(ctx context.Context) (string, error) {
	if r == nil || r.src == nil {
		return "", fmt.Errorf("%w: no property source", ErrConfigurationMissing)
	}
	v, ok, err := r.src.Lookup(ctx, r.key)
	if err != nil {
		return "", fmt.Errorf("read property %s: %w", r.key, err)
	}
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: property %s is not set", ErrConfigurationMissing, r.key)
	}
	return v, nil
}

// StoreSource reads and writes properties in the storage backend.
type StoreSource struct {
	Store storage.Store
}

func (s StoreSource) Lookup(ctx context.Context, key string) (string, bool, error) {
	if s.Store == nil {
		return "", false, storage.ErrDisabled
	}
	return s.Store.GetProperty(ctx, key)
}

func (s StoreSource) Set(ctx context.Context, key, value string) error {
	if s.Store == nil {
		return storage.ErrDisabled
	}
	return s.Store.SetProperty(ctx, key, value)
}

func (s StoreSource) Unset(ctx context.Context, key string) error {
	if s.Store == nil {
		return storage.ErrDisabled
	}
	return s.Store.DeleteProperty(ctx, key)
}

// EnvSource reads properties from the process environment.
type EnvSource struct{}

// NewEnvSource primes the environment from dotenv files. Variables already
// present in the environment win over file values; missing files are skipped.
func NewEnvSource(files ...string) (EnvSource, error) {
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return EnvSource{}, fmt.Errorf("dotenv %s: %w", f, err)
		}
	}
	return EnvSource{}, nil
}

func (EnvSource) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := os.LookupEnv(key)
	return v, ok, nil
}

// MapSource is an in-memory source, mostly for tests and one-off commands.
type MapSource map[string]string

func (m MapSource) Lookup(_ context.Context, key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}
