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

// Package oscache stores the last observed OS release of each guest.
//
// The process-wide cache returned by Default is created at package
// initialization and lives until the process exits; Reset empties it.
// Strategies receive a *Cache explicitly, so tests can use New for isolation.
package oscache

import "sync"

var defaultCache = New()

// Cache maps a guest ID to its last observed OS release. Entries are
// overwritten, never merged, and never evicted.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// Default returns the process-wide cache.
func Default() *Cache {
	return defaultCache
}

// Get returns the cached release for id.
func (c *Cache) Get(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	release, ok := c.entries[id]

	return release, ok
}

// Set overwrites the release stored for id.
func (c *Cache) Set(id, release string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[id] = release
}

// Len returns the number of cached guests.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]string)
}
