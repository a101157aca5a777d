package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ctxmesh/ctxgraph/internal/ranker"
)

// Fingerprint computes a stable cache key over the fields the query
// pipeline and ranker actually consult: the normalized query text, scope,
// result count, and the subset of a user's context the ranker reads
// (current file/project), rather than the whole UserContext (whose recent
// files and access counts churn every request and would defeat caching).
func Fingerprint(query, scope, userID string, k int, uctx *ranker.UserContext) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))

	currentFile, currentProject := "", ""
	if uctx != nil {
		currentFile = uctx.CurrentFile
		currentProject = uctx.CurrentProject
	}

	h := sha256.New()
	fmt.Fprintf(h, "q=%s|scope=%s|k=%d|file=%s|project=%s",
		normalized, scope, k, currentFile, currentProject)
	return hex.EncodeToString(h.Sum(nil))
}
