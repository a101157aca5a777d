package workspace

import (
	"context"
	"math"

	amerrors "github.com/ctxmesh/ctxgraph/internal/errors"
)

// Centroid computes a project's aggregate embedding: the element-wise
// average of every indexed chunk's vector. It is the representative point
// used to estimate semantic similarity between two projects without
// comparing every chunk pair.
func (pi *ProjectIndexer) Centroid(ctx context.Context) ([]float32, error) {
	embeddings, err := pi.meta.GetAllEmbeddings(ctx)
	if err != nil {
		return nil, amerrors.Wrap(amerrors.ErrCodeInternal, err)
	}
	if len(embeddings) == 0 {
		return nil, nil
	}

	var dim int
	for _, v := range embeddings {
		dim = len(v)
		break
	}

	sum := make([]float64, dim)
	for _, v := range embeddings {
		for i, x := range v {
			if i >= dim {
				break
			}
			sum[i] += float64(x)
		}
	}

	centroid := make([]float32, dim)
	n := float64(len(embeddings))
	for i, s := range sum {
		centroid[i] = float32(s / n)
	}
	return centroid, nil
}

// cosineSimilarity returns the cosine similarity of two equal-length
// vectors, or 0 if either is a zero vector or the lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SimilarityBetween returns the cosine similarity of two projects'
// aggregate embedding centroids, consulting the graph's LRU-backed
// similarity cache first and populating it on a miss.
func (m *Manager) SimilarityBetween(ctx context.Context, aID, bID string) (float64, error) {
	g := m.graphSnapshot()
	if sim, ok := g.SimilarityCacheGet(aID, bID); ok {
		return sim, nil
	}

	piA := m.indexerFor(aID)
	piB := m.indexerFor(bID)
	if piA == nil || piB == nil {
		return 0, amerrors.New(amerrors.ErrCodeUnknownProjectRef, "unknown project in similarity request", nil)
	}

	centroidA, err := piA.Centroid(ctx)
	if err != nil {
		return 0, err
	}
	centroidB, err := piB.Centroid(ctx)
	if err != nil {
		return 0, err
	}

	sim := cosineSimilarity(centroidA, centroidB)
	g.SimilarityCachePut(aID, bID, sim)
	return sim, nil
}
