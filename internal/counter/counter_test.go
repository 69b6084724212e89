package counter

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/garethgeorge/goaccession/internal/monorange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// assertNoOverlappingLeases advances c concurrently and checks that every
// returned block is disjoint from every other.
func assertNoOverlappingLeases(t *testing.T, c Counter) {
	t.Helper()
	ctx := context.Background()

	var mu sync.Mutex
	var leases []monorange.Range

	var eg errgroup.Group
	for i := 0; i < 16; i++ {
		eg.Go(func() error {
			for j := 0; j < 20; j++ {
				r, err := c.Advance(ctx, int64(i+1))
				if err != nil {
					return err
				}
				mu.Lock()
				leases = append(leases, r)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	slices.SortFunc(leases, monorange.Compare)
	assert.True(t, monorange.IsDisjointSorted(leases))

	// Blocks are handed out back to back.
	for i := 1; i < len(leases); i++ {
		assert.Equal(t, leases[i-1].End+1, leases[i].Start)
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()

	t.Run("advance", func(t *testing.T) {
		c := NewMemory(1)
		r, err := c.Advance(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, monorange.MustNew(1, 10), r)

		r, err = c.Advance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, monorange.Single(11), r)

		next, err := c.Peek(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(12), next)
	})

	t.Run("invalid count", func(t *testing.T) {
		c := NewMemory(0)
		_, err := c.Advance(ctx, 0)
		assert.ErrorIs(t, err, ErrInvalidCount)
		_, err = c.Advance(ctx, -1)
		assert.ErrorIs(t, err, ErrInvalidCount)
	})

	t.Run("exhausted", func(t *testing.T) {
		c := NewMemory(math.MaxInt64 - 9)
		_, err := c.Advance(ctx, 11)
		assert.ErrorIs(t, err, ErrExhausted)

		r, err := c.Advance(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt64), r.End)

		_, err = c.Advance(ctx, 1)
		assert.ErrorIs(t, err, ErrExhausted)
		_, err = c.Peek(ctx)
		assert.ErrorIs(t, err, ErrExhausted)
	})

	t.Run("cancelled context", func(t *testing.T) {
		c := NewMemory(0)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.Advance(cctx, 1)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("concurrent", func(t *testing.T) {
		assertNoOverlappingLeases(t, NewMemory(0))
	})
}

func TestFile(t *testing.T) {
	ctx := context.Background()

	t.Run("create and reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "counter")
		c, err := OpenFile(path, 100)
		require.NoError(t, err)
		assert.Equal(t, path, c.Path())

		r, err := c.Advance(ctx, 50)
		require.NoError(t, err)
		assert.Equal(t, monorange.MustNew(100, 149), r)

		reopened, err := OpenFile(path, 0)
		require.NoError(t, err)
		next, err := reopened.Peek(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(150), next)

		r, err = reopened.Advance(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, monorange.Single(150), r)
	})

	t.Run("corrupt state", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "counter")
		_, err := OpenFile(path, 7)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[0] ^= 0xff
		require.NoError(t, os.WriteFile(path, data, 0o644))

		_, err = OpenFile(path, 7)
		assert.ErrorIs(t, err, ErrCorrupt)

		require.NoError(t, os.WriteFile(path, []byte("short"), 0o644))
		_, err = OpenFile(path, 7)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		dir := t.TempDir()
		c, err := OpenFile(filepath.Join(dir, "counter"), 0)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			_, err := c.Advance(ctx, 3)
			require.NoError(t, err)
		}
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("concurrent", func(t *testing.T) {
		c, err := OpenFile(filepath.Join(t.TempDir(), "counter"), 0)
		require.NoError(t, err)
		assertNoOverlappingLeases(t, c)
	})
}
