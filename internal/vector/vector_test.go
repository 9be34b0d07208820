package vector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	byText map[string][]float32
	fail   bool
}

func (f *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embed failure")
	}
	if v, ok := f.byText[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }

type probeEngine struct {
	fakeEngine
	probeErr error
}

func (p *probeEngine) HealthCheck(context.Context) error { return p.probeErr }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestIndex(t *testing.T, eng Engine) Index {
	t.Helper()
	idx := Open(context.Background(), t.TempDir(), eng, testLogger())
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestOpenDegradesOnFailedProbe(t *testing.T) {
	eng := &probeEngine{probeErr: errors.New("connection refused")}
	idx := Open(context.Background(), t.TempDir(), eng, testLogger())
	assert.False(t, idx.Available())

	_, err := idx.Embed(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenNilEngineDisabled(t *testing.T) {
	idx := Open(context.Background(), t.TempDir(), nil, testLogger())
	assert.False(t, idx.Available())
}

func TestUpsertQueryRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, &fakeEngine{})
	require.True(t, idx.Available())

	require.NoError(t, idx.Upsert(ctx, KindMemory, "m1", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, KindMemory, "m2", []float32{0.9, 0.1, 0}))
	require.NoError(t, idx.Upsert(ctx, KindMemory, "m3", []float32{0, 1, 0}))
	require.NoError(t, idx.Upsert(ctx, KindTask, "t1", []float32{1, 0, 0}))

	matches, err := idx.Query(ctx, KindMemory, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2) // m3 is orthogonal, t1 is another kind
	assert.Equal(t, "m1", matches[0].ID)
	assert.InDelta(t, 1.0, matches[0].Cosine, 1e-9)
	assert.Equal(t, "m2", matches[1].ID)
	assert.Greater(t, matches[0].Cosine, matches[1].Cosine)
}

func TestQueryCapsAtK(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, &fakeEngine{})

	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, idx.Upsert(ctx, KindMemory, id, []float32{1, 0.5, 0}))
	}
	matches, err := idx.Query(ctx, KindMemory, []float32{1, 0.5, 0}, 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestUpsertReplacesExisting(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, &fakeEngine{})

	require.NoError(t, idx.Upsert(ctx, KindMemory, "m1", []float32{1, 0, 0}))
	require.NoError(t, idx.Upsert(ctx, KindMemory, "m1", []float32{0, 1, 0}))

	matches, err := idx.Query(ctx, KindMemory, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, matches[0].Cosine, 1e-9)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t, &fakeEngine{})

	require.NoError(t, idx.Upsert(ctx, KindMemory, "m1", []float32{1, 0, 0}))
	require.NoError(t, idx.Delete(ctx, "m1"))

	matches, err := idx.Query(ctx, KindMemory, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSyncBackfillsAndPrunes(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{byText: map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}}
	idx := openTestIndex(t, eng)

	// Pre-existing entry whose entity is gone.
	require.NoError(t, idx.Upsert(ctx, KindMemory, "stale", []float32{0, 0, 1}))

	err := idx.Sync(ctx, []Entry{
		{Kind: KindMemory, ID: "m1", Text: "alpha"},
		{Kind: KindTask, ID: "t1", Text: "beta"},
	})
	require.NoError(t, err)

	matches, err := idx.Query(ctx, KindMemory, []float32{0, 0, 1}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches, "stale entry should be pruned")

	matches, err = idx.Query(ctx, KindMemory, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m1", matches[0].ID)

	matches, err = idx.Query(ctx, KindTask, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "t1", matches[0].ID)
}

func TestSyncSkipsAlreadyIndexed(t *testing.T) {
	ctx := context.Background()
	eng := &fakeEngine{}
	idx := openTestIndex(t, eng)

	require.NoError(t, idx.Upsert(ctx, KindMemory, "m1", []float32{0, 1, 0}))

	// Embedding now fails; Sync must not touch the already-indexed entry.
	eng.fail = true
	require.NoError(t, idx.Sync(ctx, []Entry{{Kind: KindMemory, ID: "m1", Text: "whatever"}}))

	matches, err := idx.Query(ctx, KindMemory, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestUpsertTextNoopWhenDisabled(t *testing.T) {
	err := UpsertText(context.Background(), Disabled(), KindMemory, "m1", "text")
	assert.NoError(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}), "length mismatch scores zero")
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}), "zero vector scores zero")
}
