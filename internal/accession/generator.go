package accession

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/garethgeorge/goaccession/internal/blockalloc"
)

// Generator assigns accessions to models that have none yet.
type Generator[M any] interface {
	// Generate returns one accession per model, in order.
	Generate(ctx context.Context, models []M) ([]string, error)
	// PostSave is called with the accessions once they are stored.
	PostSave(ctx context.Context, accessions []string) error
	// Abandon is called with the accessions of a failed save.
	Abandon(ctx context.Context, accessions []string) error
}

// SingleGenerator derives the accession from the model itself, e.g. a file checksum.
type SingleGenerator[M any] struct {
	fn func(M) string
}

var _ Generator[struct{}] = (*SingleGenerator[struct{}])(nil)

func NewSingleGenerator[M any](fn func(M) string) *SingleGenerator[M] {
	return &SingleGenerator[M]{fn: fn}
}

// NewSHA1Generator accessions a model with the SHA1 of its summary.
func NewSHA1Generator[M any](summary SummaryFunc[M]) *SingleGenerator[M] {
	return NewSingleGenerator(func(m M) string {
		return SHA1(summary(m))
	})
}

func (g *SingleGenerator[M]) Generate(ctx context.Context, models []M) ([]string, error) {
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = g.fn(m)
	}
	return out, nil
}

func (g *SingleGenerator[M]) PostSave(ctx context.Context, accessions []string) error {
	return nil
}

func (g *SingleGenerator[M]) Abandon(ctx context.Context, accessions []string) error {
	return nil
}

// MonotonicGenerator hands out accessions such as "ACC0000042" from a block
// allocator. Values are committed only after the accessions are saved, and
// values of a failed save are abandoned so they can be reused. Until then a
// reclaim of their block leaves them alone.
type MonotonicGenerator[M any] struct {
	alloc  *blockalloc.Allocator
	prefix string
	width  int
}

var _ Generator[struct{}] = (*MonotonicGenerator[struct{}])(nil)

func NewMonotonicGenerator[M any](alloc *blockalloc.Allocator, prefix string, width int) *MonotonicGenerator[M] {
	return &MonotonicGenerator[M]{alloc: alloc, prefix: prefix, width: width}
}

func (g *MonotonicGenerator[M]) Format(v int64) string {
	return fmt.Sprintf("%s%0*d", g.prefix, g.width, v)
}

func (g *MonotonicGenerator[M]) Parse(accession string) (int64, error) {
	digits, ok := strings.CutPrefix(accession, g.prefix)
	if !ok {
		return 0, fmt.Errorf("accession %q does not start with %q", accession, g.prefix)
	}
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse accession %q: %w", accession, err)
	}
	return v, nil
}

func (g *MonotonicGenerator[M]) Generate(ctx context.Context, models []M) ([]string, error) {
	values, err := g.alloc.Generate(ctx, len(models))
	if err != nil {
		return nil, fmt.Errorf("generate %d accessions: %w", len(models), err)
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = g.Format(v)
	}
	return out, nil
}

func (g *MonotonicGenerator[M]) parseAll(accessions []string) ([]int64, error) {
	values := make([]int64, len(accessions))
	for i, acc := range accessions {
		v, err := g.Parse(acc)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (g *MonotonicGenerator[M]) PostSave(ctx context.Context, accessions []string) error {
	values, err := g.parseAll(accessions)
	if err != nil {
		return err
	}
	if err := g.alloc.Commit(values...); err != nil {
		return fmt.Errorf("commit accessions: %w", err)
	}
	return nil
}

func (g *MonotonicGenerator[M]) Abandon(ctx context.Context, accessions []string) error {
	values, err := g.parseAll(accessions)
	if err != nil {
		return err
	}
	if err := g.alloc.Abandon(ctx, values...); err != nil {
		return fmt.Errorf("abandon accessions: %w", err)
	}
	return nil
}
