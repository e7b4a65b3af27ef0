package store

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/SamuelRCrider/csp-classify/core"
)

// FileDictionaries resolves dictionary keys from a YAML file of
// key: [terms...] entries
type FileDictionaries struct {
	path string

	mu    sync.RWMutex
	terms map[string][]string

	// Invalidate is called for every key whose terms changed on Reload
	Invalidate func(key string)
}

// LoadFileDictionaries reads the dictionary file at path
func LoadFileDictionaries(path string) (*FileDictionaries, error) {
	d := &FileDictionaries{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload re-reads the file and invalidates changed or removed keys
func (d *FileDictionaries) Reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("failed to read dictionaries: %w", err)
	}

	var next map[string][]string
	if err := yaml.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("failed to parse dictionaries: %w", err)
	}

	d.mu.Lock()
	prev := d.terms
	d.terms = next
	d.mu.Unlock()

	if d.Invalidate == nil {
		return nil
	}
	for key, terms := range prev {
		if nt, ok := next[key]; !ok || !slices.Equal(terms, nt) {
			d.Invalidate(key)
		}
	}
	for key := range next {
		if _, ok := prev[key]; !ok {
			d.Invalidate(key)
		}
	}
	return nil
}

// ResolveTerms returns the terms stored under key
func (d *FileDictionaries) ResolveTerms(_ context.Context, key string) ([]string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	terms, ok := d.terms[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(terms), true, nil
}

// Keys returns the dictionary keys in sorted order
func (d *FileDictionaries) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.terms))
	for k := range d.terms {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Chain consults resolvers in order and returns the first hit
type Chain []core.DictionaryResolver

// ResolveTerms implements core.DictionaryResolver
func (c Chain) ResolveTerms(ctx context.Context, key string) ([]string, bool, error) {
	for _, r := range c {
		terms, ok, err := r.ResolveTerms(ctx, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return terms, true, nil
		}
	}
	return nil, false, nil
}
