package accession

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
)

var ErrAlreadyExists = errors.New("hash already has an accession")

// Accessioned is a model together with its hash and assigned accession.
type Accessioned[M any] struct {
	Accession string
	Hash      string
	Model     M
}

// Database stores accessioned models keyed by hash.
type Database[M any] interface {
	// FindByHash returns the stored entries for the hashes that are known.
	FindByHash(ctx context.Context, hashes []string) (map[string]Accessioned[M], error)
	// Save stores new entries. Saving a hash that already exists fails.
	Save(ctx context.Context, entries []Accessioned[M]) error
}

// MemoryDatabase is an in-memory Database ordered by hash.
type MemoryDatabase[M any] struct {
	mu     sync.RWMutex
	byHash *btree.BTreeG[Accessioned[M]]
}

var _ Database[struct{}] = (*MemoryDatabase[struct{}])(nil)

func NewMemoryDatabase[M any]() *MemoryDatabase[M] {
	return &MemoryDatabase[M]{
		byHash: btree.NewG(32, func(a, b Accessioned[M]) bool { return a.Hash < b.Hash }),
	}
}

func (d *MemoryDatabase[M]) FindByHash(ctx context.Context, hashes []string) (map[string]Accessioned[M], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	found := make(map[string]Accessioned[M], len(hashes))
	for _, h := range hashes {
		if e, ok := d.byHash.Get(Accessioned[M]{Hash: h}); ok {
			found[h] = e
		}
	}
	return found, nil
}

func (d *MemoryDatabase[M]) Save(ctx context.Context, entries []Accessioned[M]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.Hash] || d.byHash.Has(e) {
			return fmt.Errorf("save %s: %w", e.Hash, ErrAlreadyExists)
		}
		seen[e.Hash] = true
	}
	for _, e := range entries {
		d.byHash.ReplaceOrInsert(e)
	}
	return nil
}

// All returns every stored entry ordered by hash.
func (d *MemoryDatabase[M]) All() []Accessioned[M] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Accessioned[M], 0, d.byHash.Len())
	d.byHash.Ascend(func(e Accessioned[M]) bool {
		out = append(out, e)
		return true
	})
	return out
}
