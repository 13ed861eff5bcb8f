package payloadstore

import (
	"context"
	"strings"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("cv1")

	ref, err := s.Put(ctx, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(ref, "cv1:") {
		t.Fatalf("ref must embed canonical_version: %s", ref)
	}

	got, err := s.Get(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestPutIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("cv1")
	r1, _ := s.Put(ctx, []byte("x"))
	r2, _ := s.Put(ctx, []byte("x"))
	if r1 != r2 {
		t.Fatalf("content-addressed put must be idempotent: %s vs %s", r1, r2)
	}
}

func TestPurgeKeepsHashRecoverable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("cv1")
	ref, _ := s.Put(ctx, []byte("payload"))

	if err := s.Purge(ctx, ref); err != nil {
		t.Fatal(err)
	}

	exists, err := s.Exists(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("purge should remove the blob")
	}

	// The ref itself — and therefore the hash — is still available for
	// lineage even though the bytes are gone.
	if !strings.Contains(ref, ":") {
		t.Fatalf("ref must retain hash component: %s", ref)
	}

	if _, err := s.Get(ctx, ref); err == nil {
		t.Fatal("expected ErrNotFound after purge")
	}
}
