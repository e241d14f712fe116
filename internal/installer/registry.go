/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/alexandremahdhaoui/vbguest/pkg/guest"
)

var (
	ErrNoStrategy          = errors.New("no installer strategy matched the guest")
	errInvalidRegistration = errors.New("invalid installer registration")
)

// Registration binds a strategy kind to its detection and construction.
type Registration struct {
	Kind     Kind
	Priority int
	Match    MatchFunc
	New      Factory
}

// Registry orders registrations by priority for detection.
type Registry struct {
	mu            sync.RWMutex
	registrations []Registration
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds reg. A later registration with the same kind replaces the
// earlier one.
func (r *Registry) Register(reg Registration) error {
	if reg.Kind == "" || reg.Match == nil || reg.New == nil {
		return errors.Join(fmt.Errorf("kind=%q", reg.Kind), errInvalidRegistration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.registrations = slices.DeleteFunc(r.registrations, func(existing Registration) bool {
		return existing.Kind == reg.Kind
	})
	r.registrations = append(r.registrations, reg)

	// Higher priority first; registration order breaks ties.
	slices.SortStableFunc(r.registrations, func(a, b Registration) int {
		return b.Priority - a.Priority
	})

	return nil
}

// Registrations returns the registrations in detection order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.registrations)
}

// Lookup returns the registration for kind.
func (r *Registry) Lookup(kind Kind) (Registration, bool) {
	for _, reg := range r.Registrations() {
		if reg.Kind == kind {
			return reg, true
		}
	}

	return Registration{}, false
}

// Detect returns the first registration, by descending priority, whose match
// routine accepts target. Match errors abort detection.
func (r *Registry) Detect(ctx context.Context, target guest.Target) (Registration, error) {
	if err := target.Validate(); err != nil {
		return Registration{}, err
	}

	for _, reg := range r.Registrations() {
		ok, err := reg.Match(ctx, reg.Kind, target)
		if err != nil {
			return Registration{}, fmt.Errorf("matching %s installer: %w", reg.Kind, err)
		}

		if !ok {
			slog.Debug("installer did not match guest", "kind", reg.Kind, "guest", target.ID)
			continue
		}

		slog.Debug("installer matched guest", "kind", reg.Kind, "guest", target.ID)

		return reg, nil
	}

	return Registration{}, errors.Join(fmt.Errorf("guest=%s", target.ID), ErrNoStrategy)
}
