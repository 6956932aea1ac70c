// Package presence tracks which users are online and through which live
// connections.
package presence

import (
	"sort"
	"sync"
)

// Registry maps a user id to the set of live connections owned by that user.
// A user is online iff its entry exists and is non-empty. All operations are
// atomic with respect to each other.
type Registry[T any] struct {
	mu    sync.RWMutex
	users map[int]map[string]T
	conns int
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		users: make(map[int]map[string]T),
	}
}

// Register adds the connection to the user's entry and reports whether it is
// the user's first live connection. Registering an id that is already present
// replaces its handle.
func (r *Registry[T]) Register(userId int, connId string, conn T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[userId]
	if !ok {
		entry = make(map[string]T)
		r.users[userId] = entry
	}

	if _, exists := entry[connId]; !exists {
		r.conns++
	}
	entry[connId] = conn

	return !ok
}

// Unregister removes the connection and reports whether it was the user's
// last live connection. Unknown connections are ignored.
func (r *Registry[T]) Unregister(userId int, connId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.users[userId]
	if !ok {
		return false
	}

	if _, exists := entry[connId]; !exists {
		return false
	}

	delete(entry, connId)
	r.conns--

	if len(entry) == 0 {
		delete(r.users, userId)
		return true
	}

	return false
}

func (r *Registry[T]) IsOnline(userId int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.users[userId]) > 0
}

// ConnectionsFor returns the sorted ids of the user's live connections.
func (r *Registry[T]) ConnectionsFor(userId int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users[userId]))
	for id := range r.users[userId] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// Lookup returns a snapshot of the user's connection handles.
func (r *Registry[T]) Lookup(userId int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.users[userId]))
	for _, c := range r.users[userId] {
		out = append(out, c)
	}

	return out
}

// All returns a snapshot of every live connection handle.
func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, r.conns)
	for _, entry := range r.users {
		for _, c := range entry {
			out = append(out, c)
		}
	}

	return out
}

// OnlineUsers returns the sorted ids of every online user.
func (r *Registry[T]) OnlineUsers() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return ids
}

// Len returns the number of live connections.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.conns
}
