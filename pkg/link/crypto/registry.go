// SPDX-FileCopyrightText: 2024 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package crypto

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps Method names to Methods. It is safe for concurrent use.
type Registry struct {
	mutex   sync.RWMutex
	methods map[string]Method
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]Method)}
}

// DefaultRegistry contains the none, rot and secretbox Methods.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(None{})
	r.Register(Rot{})
	r.Register(SecretBox{})
	return r
}

// Register a Method, replacing a previous Method of the same name.
func (r *Registry) Register(m Method) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.methods[m.Name()] = m
}

// Lookup a Method by its name.
func (r *Registry) Lookup(name string) (Method, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if m, ok := r.methods[name]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// Names of all registered Methods, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
