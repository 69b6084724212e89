// Package accession maps domain models to permanent accessions. A model is
// reduced to a summary string, the summary is hashed, and models whose hash is
// already stored keep their existing accession.
package accession

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// SummaryFunc reduces a model to the canonical string that identifies it.
type SummaryFunc[M any] func(M) string

type Service[M any] struct {
	generator Generator[M]
	db        Database[M]
	summary   SummaryFunc[M]
	hash      HashFunc
	workers   int
}

func NewService[M any](generator Generator[M], db Database[M], summary SummaryFunc[M], hash HashFunc) *Service[M] {
	return &Service[M]{
		generator: generator,
		db:        db,
		summary:   summary,
		hash:      hash,
		workers:   runtime.GOMAXPROCS(0),
	}
}

// hashAll hashes models in parallel, preserving order.
func (s *Service[M]) hashAll(ctx context.Context, models []M) ([]string, error) {
	hashes := make([]string, len(models))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for i, m := range models {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hashes[i] = s.hash(s.summary(m))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("hash models: %w", err)
	}
	return hashes, nil
}

// Get returns the stored accessions of models, in input order. Models without
// an accession are skipped.
func (s *Service[M]) Get(ctx context.Context, models []M) ([]Accessioned[M], error) {
	hashes, err := s.hashAll(ctx, models)
	if err != nil {
		return nil, err
	}
	found, err := s.db.FindByHash(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("find accessions: %w", err)
	}
	var out []Accessioned[M]
	for _, h := range hashes {
		if e, ok := found[h]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetOrCreate returns one entry per model, in input order. Models already
// stored keep their accession; the rest get a new one. Identical models in the
// same call share a single new accession.
func (s *Service[M]) GetOrCreate(ctx context.Context, models []M) ([]Accessioned[M], error) {
	hashes, err := s.hashAll(ctx, models)
	if err != nil {
		return nil, err
	}
	found, err := s.db.FindByHash(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("find accessions: %w", err)
	}

	var newModels []M
	var newHashes []string
	pending := make(map[string]bool)
	for i, h := range hashes {
		if _, ok := found[h]; ok || pending[h] {
			continue
		}
		pending[h] = true
		newModels = append(newModels, models[i])
		newHashes = append(newHashes, h)
	}

	if len(newModels) > 0 {
		accessions, err := s.generator.Generate(ctx, newModels)
		if err != nil {
			return nil, fmt.Errorf("generate accessions: %w", err)
		}
		if len(accessions) != len(newModels) {
			return nil, fmt.Errorf("generator returned %d accessions for %d models", len(accessions), len(newModels))
		}

		entries := make([]Accessioned[M], len(newModels))
		for i := range newModels {
			entries[i] = Accessioned[M]{Accession: accessions[i], Hash: newHashes[i], Model: newModels[i]}
		}
		if err := s.db.Save(ctx, entries); err != nil {
			err = fmt.Errorf("save accessions: %w", err)
			if abandonErr := s.generator.Abandon(ctx, accessions); abandonErr != nil {
				err = errors.Join(err, fmt.Errorf("abandon accessions: %w", abandonErr))
			}
			return nil, err
		}
		if err := s.generator.PostSave(ctx, accessions); err != nil {
			return nil, fmt.Errorf("post save: %w", err)
		}
		for _, e := range entries {
			found[e.Hash] = e
		}
	}

	out := make([]Accessioned[M], len(models))
	for i, h := range hashes {
		out[i] = found[h]
	}
	return out, nil
}
