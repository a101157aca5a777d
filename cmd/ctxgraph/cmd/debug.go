package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctxmesh/ctxgraph/internal/config"
	"github.com/ctxmesh/ctxgraph/internal/store"
)

// DebugInfo is the diagnostic snapshot printed by 'ctxgraph debug'.
type DebugInfo struct {
	ProjectRoot      string             `json:"project_root"`
	IndexPath        string             `json:"index_path"`
	FileCount        int                `json:"file_count"`
	ChunkCount       int                `json:"chunk_count"`
	IndexedAt        time.Time          `json:"indexed_at"`
	Languages        map[string]float64 `json:"languages,omitempty"`
	EmbedderProvider string             `json:"embedder_provider"`
	EmbedderModel    string             `json:"embedder_model"`
	BM25Backend      string             `json:"bm25_backend"`
	BM25Size         int64              `json:"bm25_size_bytes"`
	VectorSize       int64              `json:"vector_size_bytes"`
	MetadataSize     int64              `json:"metadata_size_bytes"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print diagnostic information about the index and embedder",
		Long: `Display low-level diagnostics useful for filing a bug report:
  - File and chunk counts, language breakdown
  - Embedder provider and model
  - BM25 index backend
  - Storage sizes on disk`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.FindProjectRoot(".")
			if err != nil {
				root, _ = os.Getwd()
			}
			dataDir := filepath.Join(root, ".ctxgraph")

			metadataPath := filepath.Join(dataDir, "metadata.db")
			if !fileExists(metadataPath) {
				return fmt.Errorf("no index found in %s\nRun 'ctxgraph index' to create one", root)
			}

			info, err := collectDebugInfo(cmd.Context(), root, dataDir)
			if err != nil {
				return fmt.Errorf("failed to collect debug info: %w", err)
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			renderDebugInfo(cmd.OutOrStdout(), info)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{
		ProjectRoot: root,
		IndexPath:   dataDir,
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	projectID := hashString(root)
	project, err := metadata.GetProject(ctx, projectID)
	if err != nil {
		project = nil
	}
	if project != nil {
		info.FileCount = project.FileCount
		info.ChunkCount = project.ChunkCount
		info.IndexedAt = project.IndexedAt
	}

	info.Languages = scanLanguages(root)

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = "auto"
	}
	info.EmbedderModel = cfg.Embeddings.Model
	info.BM25Backend = cfg.Search.BM25Backend

	info.MetadataSize = getFileSize(metadataPath)
	bm25SQLitePath := filepath.Join(dataDir, "bm25.db")
	bm25BlevePath := filepath.Join(dataDir, "bm25.bleve")
	if size := getFileSize(bm25SQLitePath); size > 0 {
		info.BM25Size = size
	} else {
		info.BM25Size = getDirSize(bm25BlevePath)
	}
	info.VectorSize = getFileSize(filepath.Join(dataDir, "vectors.hnsw"))

	return info, nil
}

// scanLanguages walks root and returns the fraction of files per normalized
// extension, skipping the .ctxgraph data directory and VCS metadata.
func scanLanguages(root string) map[string]float64 {
	counts := make(map[string]int)
	total := 0

	_ = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if fi.IsDir() {
			base := filepath.Base(path)
			if base == ".ctxgraph" || base == ".git" || base == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		if ext == "" {
			return nil
		}
		counts[normalizeExtension(ext)]++
		total++
		return nil
	})

	if total == 0 {
		return nil
	}
	langs := make(map[string]float64, len(counts))
	for ext, n := range counts {
		langs[ext] = float64(n) / float64(total)
	}
	return langs
}

func renderDebugInfo(out io.Writer, info DebugInfo) {
	fmt.Fprintln(out, "CtxGraph Debug Info")
	fmt.Fprintln(out, strings.Repeat("=", 40))

	fmt.Fprintln(out, "\nFILES & CHUNKS")
	fmt.Fprintf(out, "  Project root:  %s\n", info.ProjectRoot)
	fmt.Fprintf(out, "  Index path:    %s\n", info.IndexPath)
	fmt.Fprintf(out, "  Files:         %s\n", formatNumber(info.FileCount))
	fmt.Fprintf(out, "  Chunks:        %s\n", formatNumber(info.ChunkCount))
	fmt.Fprintf(out, "  Last indexed:  %s\n", formatAge(info.IndexedAt))
	fmt.Fprintf(out, "  Languages:     %s\n", formatLanguages(info.Languages))

	fmt.Fprintln(out, "\nEMBEDDER")
	fmt.Fprintf(out, "  Provider:      %s\n", info.EmbedderProvider)
	fmt.Fprintf(out, "  Model:         %s\n", info.EmbedderModel)

	fmt.Fprintln(out, "\nBM25 INDEX")
	fmt.Fprintf(out, "  Backend:       %s\n", info.BM25Backend)
	fmt.Fprintf(out, "  Size:          %s\n", formatNumber(int(info.BM25Size))+" bytes")

	fmt.Fprintln(out, "\nVECTOR STORE")
	fmt.Fprintf(out, "  Size:          %s\n", formatNumber(int(info.VectorSize))+" bytes")

	fmt.Fprintln(out, "\nSTORAGE")
	fmt.Fprintf(out, "  Metadata:      %s bytes\n", formatNumber(int(info.MetadataSize)))
	fmt.Fprintf(out, "  Total:         %s bytes\n", formatNumber(int(info.MetadataSize+info.BM25Size+info.VectorSize)))
}

// formatAge renders a timestamp as a coarse relative age.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < 30*time.Second:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins < 1 {
			mins = 1
		}
		return agePhrase(mins, "minute")
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours < 1 {
			hours = 1
		}
		return agePhrase(hours, "hour")
	default:
		days := int(d.Hours() / 24)
		if days < 1 {
			days = 1
		}
		return agePhrase(days, "day")
	}
}

func agePhrase(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s ago", n, unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

// formatNumber renders an integer with thousands separators.
func formatNumber(n int) string {
	s := strconv.Itoa(n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var groups []string
	for len(s) > 3 {
		groups = append([]string{s[len(s)-3:]}, groups...)
		s = s[:len(s)-3]
	}
	groups = append([]string{s}, groups...)

	result := strings.Join(groups, ",")
	if neg {
		result = "-" + result
	}
	return result
}

// formatLanguages renders a language-fraction map sorted by descending share.
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}

	type entry struct {
		lang  string
		share float64
	}
	entries := make([]entry, 0, len(langs))
	for lang, share := range langs {
		entries = append(entries, entry{lang, share})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].share != entries[j].share {
			return entries[i].share > entries[j].share
		}
		return entries[i].lang < entries[j].lang
	})

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s (%.0f%%)", e.lang, e.share*100))
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension folds related file extensions into one reporting bucket.
func normalizeExtension(ext string) string {
	switch ext {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return ext
	}
}
