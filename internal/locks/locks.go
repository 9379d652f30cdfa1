// Streamwarden - Media Server Policy Monitoring and Violation Detection
// Copyright 2026 Streamwarden contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/streamwarden/streamwarden

// Package locks provides named mutual exclusion scoped to a unit of work.
//
// The multi-session violation write path acquires a lock keyed by
// (server user, rule type) before its dedup check and holds it until the
// insert transaction commits, giving racing evaluators a total order over
// check-then-insert. The Manager here is in-process; the Locker interface
// lets a deployment swap in a storage-engine or external lock service
// honoring the same contract.
package locks

import (
	"context"
	"hash/fnv"
	"sync"
)

// Locker acquires a named lock, blocking until it is held or ctx is done.
// The returned release function must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key uint64) (release func(), err error)
}

// Key hashes lock name components into a lock key.
func Key(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// Manager is an in-process Locker. Lock entries are reference counted and
// removed once the last holder or waiter releases, so the table stays
// bounded by the number of live keys.
type Manager struct {
	mu    sync.Mutex
	locks map[uint64]*entry
}

type entry struct {
	ch   chan struct{} // buffered size 1; holds a token when the lock is free
	refs int
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[uint64]*entry)}
}

// Acquire blocks until the named lock is held or ctx is canceled.
func (m *Manager) Acquire(ctx context.Context, key uint64) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		e.ch <- struct{}{}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case <-e.ch:
		var once sync.Once
		release := func() {
			once.Do(func() {
				e.ch <- struct{}{}
				m.unref(key, e)
			})
		}
		return release, nil
	case <-ctx.Done():
		m.unref(key, e)
		return nil, ctx.Err()
	}
}

// unref drops one reference to an entry, deleting it when unused.
func (m *Manager) unref(key uint64, e *entry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}
