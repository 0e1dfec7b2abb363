// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package connection caches open device sessions for the lifetime of one
// run tree, keyed by (protocol, parent runtime, device, connection name).
// A handle is liveness-probed before being handed back out, and teardown
// fans closes out one goroutine per entry.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Session is the slice of a device session the cache needs: every protocol
// family (prompt-driven CLI, streaming CLI, vendor-agnostic management,
// NETCONF) satisfies it through its own liveness probe.
type Session interface {
	// Alive runs the protocol-specific liveness probe and reports whether
	// the handle is still usable.
	Alive(ctx context.Context) bool
	// Close releases the underlying resource.
	Close(ctx context.Context) error
}

// Key identifies one cache entry.
type Key struct {
	Protocol       string
	ParentRuntime  string
	Device         string
	ConnectionName string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Protocol, k.ParentRuntime, k.Device, k.ConnectionName)
}

// Opener opens a fresh session when the cache has nothing usable for a key.
type Opener func(ctx context.Context, key Key) (Session, error)

// Cache holds the open sessions. All methods are safe for concurrent use; a
// given handle is expected to be used exclusively by one caller at a time
// (the cache does not itself enforce mutual exclusion on a live handle once
// handed out).
type Cache struct {
	mu      sync.Mutex
	entries map[Key]Session
	logger  *slog.Logger
}

// New returns an empty Cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{entries: map[Key]Session{}, logger: logger}
}

// Get returns a usable session for key, opening one via open if the cache
// has nothing, or if what it has fails the liveness probe, or if
// startNewConnection forces an unconditional close-then-reopen.
func (c *Cache) Get(ctx context.Context, key Key, startNewConnection bool, open Opener) (Session, error) {
	c.mu.Lock()
	existing, ok := c.entries[key]
	c.mu.Unlock()

	if ok {
		if startNewConnection {
			c.evict(ctx, key, existing)
			ok = false
		} else if !existing.Alive(ctx) {
			c.evict(ctx, key, existing)
			ok = false
		}
	}

	if ok {
		return existing, nil
	}

	session, err := open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("connection: open %s: %w", key, err)
	}

	c.mu.Lock()
	c.entries[key] = session
	c.mu.Unlock()
	return session, nil
}

// Put inserts an already-open session, overwriting (and closing) whatever
// was previously cached for key.
func (c *Cache) Put(ctx context.Context, key Key, session Session) {
	c.mu.Lock()
	previous, had := c.entries[key]
	c.entries[key] = session
	c.mu.Unlock()

	if had && previous != session {
		c.closeLogged(ctx, key, previous)
	}
}

// Evict closes and removes the entry for key, if any.
func (c *Cache) Evict(ctx context.Context, key Key) {
	c.mu.Lock()
	session, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.closeLogged(ctx, key, session)
	}
}

func (c *Cache) evict(ctx context.Context, key Key, session Session) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.closeLogged(ctx, key, session)
}

func (c *Cache) closeLogged(ctx context.Context, key Key, session Session) {
	if err := session.Close(ctx); err != nil {
		c.logger.Warn("connection close failed", "key", key.String(), "error", err)
	}
}

// CloseAll closes every cached entry belonging to parentRuntime, one
// goroutine per entry, and waits for all of them to finish. After it
// returns, no entry for parentRuntime remains in the cache.
func (c *Cache) CloseAll(ctx context.Context, parentRuntime string) {
	c.mu.Lock()
	var toClose []struct {
		key     Key
		session Session
	}
	for k, s := range c.entries {
		if k.ParentRuntime == parentRuntime {
			toClose = append(toClose, struct {
				key     Key
				session Session
			}{k, s})
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(toClose))
	for _, entry := range toClose {
		go func(key Key, session Session) {
			defer wg.Done()
			c.closeLogged(ctx, key, session)
		}(entry.key, entry.session)
	}
	wg.Wait()
}

// Len reports the number of cached entries, primarily for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
