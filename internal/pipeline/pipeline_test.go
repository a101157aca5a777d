package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctxmesh/ctxgraph/internal/search"
)

type stubClassifier struct {
	queryType search.QueryType
	weights   search.Weights
	err       error
}

func (s stubClassifier) Classify(ctx context.Context, query string) (search.QueryType, search.Weights, error) {
	return s.queryType, s.weights, s.err
}

func TestParse_ExtractsFileLikeToken(t *testing.T) {
	parsed := Parse(context.Background(), stubClassifier{queryType: search.QueryTypeLexical, weights: search.DefaultWeights()}, "where is auth.go defined")
	assert.Contains(t, parsed.Entities.FileLike, "auth.go")
}

func TestParse_ExtractsSymbolLikeToken(t *testing.T) {
	parsed := Parse(context.Background(), stubClassifier{queryType: search.QueryTypeLexical, weights: search.DefaultWeights()}, "how does HandleLogin work")
	assert.Contains(t, parsed.Entities.SymbolLike, "HandleLogin")
}

func TestParse_ExtractsConceptTokensAndDropsStopwords(t *testing.T) {
	parsed := Parse(context.Background(), stubClassifier{queryType: search.QueryTypeSemantic, weights: search.DefaultWeights()}, "how does the rate limiter work")
	assert.Contains(t, parsed.Entities.Concepts, "rate")
	assert.Contains(t, parsed.Entities.Concepts, "limiter")
	assert.NotContains(t, parsed.Entities.Concepts, "the")
	assert.NotContains(t, parsed.Entities.Concepts, "how")
}

func TestParse_ConfidenceReflectsEntityFraction(t *testing.T) {
	parsed := Parse(context.Background(), stubClassifier{queryType: search.QueryTypeLexical, weights: search.DefaultWeights()}, "auth.go HandleLogin")
	assert.Equal(t, 1.0, parsed.Confidence)
}

func TestParse_FallsBackToMixedOnClassifierError(t *testing.T) {
	parsed := Parse(context.Background(), stubClassifier{err: assert.AnError}, "anything")
	assert.Equal(t, search.QueryTypeMixed, parsed.Intent)
	assert.Equal(t, search.DefaultWeights(), parsed.Weights)
}

func TestFingerprint_StableForSameInputs(t *testing.T) {
	fp1 := Fingerprint("  Find   Auth  ", "project", "user-1", 10, nil)
	fp2 := Fingerprint("find auth", "project", "user-1", 10, nil)
	assert.Equal(t, fp1, fp2)
}

func TestFingerprint_DiffersOnScope(t *testing.T) {
	fp1 := Fingerprint("find auth", "project", "user-1", 10, nil)
	fp2 := Fingerprint("find auth", "workspace", "user-1", 10, nil)
	assert.NotEqual(t, fp1, fp2)
}
