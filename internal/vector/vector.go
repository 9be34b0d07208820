// Package vector provides the optional embedding index behind semantic
// search and link scoring. The backend is probed once at startup; when the
// probe fails the rest of the system keeps running and similarity scores are
// simply absent.
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrUnavailable is returned by every operation on a disabled index.
var ErrUnavailable = errors.New("vector index unavailable")

// Kind namespaces index entries by entity type.
type Kind string

const (
	KindMemory Kind = "memory"
	KindTask   Kind = "task"
)

// Match is one nearest-neighbor result.
type Match struct {
	ID     string
	Cosine float64
}

// Entry is the embeddable view of an entity, used by Sync to backfill.
type Entry struct {
	Kind Kind
	ID   string
	Text string
}

// Index is the contract the linker and tools consume. Implementations
// persist vectors under <dataRoot>/vectors/.
type Index interface {
	// Available reports whether the backend probe succeeded. Callers skip
	// semantic scoring entirely when it returns false.
	Available() bool
	Embed(ctx context.Context, text string) ([]float32, error)
	Upsert(ctx context.Context, kind Kind, id string, vec []float32) error
	Query(ctx context.Context, kind Kind, vec []float32, k int) ([]Match, error)
	Delete(ctx context.Context, id string) error
	// Sync embeds entries missing from the index and drops entries whose
	// entity no longer exists.
	Sync(ctx context.Context, entries []Entry) error
	Close() error
}

// Disabled returns the no-op index used when semantic search is off or the
// backend probe failed.
func Disabled() Index { return disabled{} }

type disabled struct{}

func (disabled) Available() bool { return false }

func (disabled) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrUnavailable
}

func (disabled) Upsert(context.Context, Kind, string, []float32) error {
	return ErrUnavailable
}

func (disabled) Query(context.Context, Kind, []float32, int) ([]Match, error) {
	return nil, ErrUnavailable
}

func (disabled) Delete(context.Context, string) error { return ErrUnavailable }

func (disabled) Sync(context.Context, []Entry) error { return nil }

func (disabled) Close() error { return nil }

// UpsertText embeds text and stores the vector. A disabled index makes this
// a no-op so write paths never need to branch on availability.
func UpsertText(ctx context.Context, idx Index, kind Kind, id, text string) error {
	if !idx.Available() {
		return nil
	}
	vec, err := idx.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", id, err)
	}
	return idx.Upsert(ctx, kind, id, vec)
}

// Cosine computes cosine similarity between two vectors: 1 identical,
// 0 orthogonal. Mismatched lengths and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
