package upstream

import (
	"context"

	"grantwatch/internal/domain"
	"grantwatch/internal/port"
)

// Embedder applies a Policy to every Embed call.
type Embedder struct {
	inner  port.Embedder
	policy *Policy
}

// NewEmbedder wraps inner.
func NewEmbedder(inner port.Embedder, policy *Policy) *Embedder {
	return &Embedder{inner: inner, policy: policy}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.policy.Do(ctx, "embed", func(ctx context.Context) error {
		vecs, err := e.inner.Embed(ctx, texts)
		if err != nil {
			return err
		}
		out = vecs
		return nil
	})
	return out, err
}

func (e *Embedder) Dimension() int    { return e.inner.Dimension() }
func (e *Embedder) ModelName() string { return e.inner.ModelName() }

// Index applies a Policy to every call on the wrapped index.
// Upsert is retried whole, which is safe because it is atomic and keyed.
type Index struct {
	inner  port.VectorIndex
	policy *Policy
}

// NewIndex wraps inner.
func NewIndex(inner port.VectorIndex, policy *Policy) *Index {
	return &Index{inner: inner, policy: policy}
}

func (i *Index) Upsert(ctx context.Context, entries []port.Entry) error {
	return i.policy.Do(ctx, "index.upsert", func(ctx context.Context) error {
		return i.inner.Upsert(ctx, entries)
	})
}

func (i *Index) Query(ctx context.Context, vector []float32, k int) ([]port.Match, error) {
	var out []port.Match
	err := i.policy.Do(ctx, "index.query", func(ctx context.Context) error {
		m, err := i.inner.Query(ctx, vector, k)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

func (i *Index) Get(ctx context.Context, id string) (domain.Grant, bool, error) {
	var (
		g     domain.Grant
		found bool
	)
	err := i.policy.Do(ctx, "index.get", func(ctx context.Context) error {
		var err error
		g, found, err = i.inner.Get(ctx, id)
		return err
	})
	return g, found, err
}

func (i *Index) Delete(ctx context.Context, ids []string) error {
	return i.policy.Do(ctx, "index.delete", func(ctx context.Context) error {
		return i.inner.Delete(ctx, ids)
	})
}

func (i *Index) Count(ctx context.Context) (int, error) {
	var n int
	err := i.policy.Do(ctx, "index.count", func(ctx context.Context) error {
		var err error
		n, err = i.inner.Count(ctx)
		return err
	})
	return n, err
}

func (i *Index) Metric() string { return i.inner.Metric() }
func (i *Index) Close() error   { return i.inner.Close() }
