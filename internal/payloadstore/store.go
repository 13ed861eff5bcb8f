// Package payloadstore implements the content-addressed blob store that
// backs large request/response/row payloads referenced from the audit DB
// (spec §4.2). The engine persists only a ref and its hash in the
// relational store; the bytes themselves live here.
package payloadstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tachyon-beep/elspeth/internal/canon"
)

// Store is the capability interface plugins and the engine use to persist
// and retrieve large payloads by content hash.
type Store interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Exists(ctx context.Context, ref string) (bool, error)
	// Purge drops the bytes for ref while leaving its hash recoverable
	// from the ref string itself, per the graceful-degradation model.
	Purge(ctx context.Context, ref string) error
}

// ErrNotFound is returned by Get when a ref is unknown or was purged.
type ErrNotFound struct{ Ref string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("payloadstore: ref not found: %s", e.Ref) }

// MemoryStore is an in-process Store, the default used by the engine when
// no durable blob backend (an external collaborator per spec §1) is
// configured — e.g. in tests and single-process runs.
type MemoryStore struct {
	canonicalVersion string

	mu     sync.RWMutex
	blobs  map[string][]byte
	purged map[string]bool
}

// NewMemoryStore creates a Store using the given canonical_version to
// namespace refs (ref = canonical_version + ":" + sha256_hex).
func NewMemoryStore(canonicalVersion string) *MemoryStore {
	return &MemoryStore{
		canonicalVersion: canonicalVersion,
		blobs:            make(map[string][]byte),
		purged:           make(map[string]bool),
	}
}

func (s *MemoryStore) refFor(data []byte) string {
	return s.canonicalVersion + ":" + canon.HashBytes(data)
}

// Put is idempotent: content addressing means re-storing the same bytes
// resolves to the same ref without duplicating storage.
func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	ref := s.refFor(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[ref] = cp
	delete(s.purged, ref)
	return ref, nil
}

func (s *MemoryStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.purged[ref] {
		return nil, &ErrNotFound{Ref: ref}
	}
	data, ok := s.blobs[ref]
	if !ok {
		return nil, &ErrNotFound{Ref: ref}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) Exists(_ context.Context, ref string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.purged[ref] {
		return false, nil
	}
	_, ok := s.blobs[ref]
	return ok, nil
}

func (s *MemoryStore) Purge(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, ref)
	s.purged[ref] = true
	return nil
}
