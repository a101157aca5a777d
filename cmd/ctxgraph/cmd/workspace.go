package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctxmesh/ctxgraph/internal/discovery"
	"github.com/ctxmesh/ctxgraph/internal/ui"
	"github.com/ctxmesh/ctxgraph/internal/workspace"
	"github.com/ctxmesh/ctxgraph/internal/wsstore"
)

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage multi-project workspace configurations",
		Long: `A workspace groups several related project roots under one config file
so search and indexing can span project boundaries.`,
	}

	cmd.AddCommand(newWorkspaceDiscoverCmd())
	cmd.AddCommand(newWorkspaceLoadCmd())
	cmd.AddCommand(newWorkspaceSaveCmd())
	cmd.AddCommand(newWorkspaceGraphCmd())
	cmd.AddCommand(newWorkspaceStatusCmd())

	return cmd
}

func newWorkspaceDiscoverCmd() *cobra.Command {
	var (
		name    string
		output  string
		maxDepth int
	)

	cmd := &cobra.Command{
		Use:   "discover [root]",
		Short: "Scan a directory tree for candidate projects and draft a workspace config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return fmt.Errorf("failed to resolve path: %w", err)
			}

			opts := discovery.Options{}
			if maxDepth > 0 {
				opts.MaxDepth = maxDepth
			}

			candidates, err := discovery.Discover(absRoot, opts)
			if err != nil {
				return fmt.Errorf("discovery failed: %w", err)
			}
			if len(candidates) == 0 {
				fmt.Println("No candidate projects found.")
				return nil
			}

			if name == "" {
				name = filepath.Base(absRoot)
			}
			ws := discovery.DraftWorkspace(name, candidates)

			fmt.Printf("Discovered %d candidate project(s):\n", len(ws.Projects))
			for _, p := range ws.Projects {
				fmt.Printf("  %-20s %-15s %s\n", p.ID, p.Type, p.Path)
			}

			if output == "" {
				return nil
			}
			if err := workspace.Save(ws, output); err != nil {
				return fmt.Errorf("failed to write workspace config: %w", err)
			}
			fmt.Printf("\nWrote draft workspace config to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Workspace name (default: root directory name)")
	cmd.Flags().StringVar(&output, "output", "", "Write the draft workspace config to this path")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "Maximum directory depth to scan (default: 4)")

	return cmd
}

func newWorkspaceLoadCmd() *cobra.Command {
	var verifyPaths bool

	cmd := &cobra.Command{
		Use:   "load <config>",
		Short: "Load and validate a workspace config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := workspace.Load(args[0], workspace.LoadOptions{VerifyPaths: verifyPaths})
			if err != nil {
				return fmt.Errorf("workspace invalid: %w", err)
			}
			fmt.Printf("Workspace %q: %d project(s)\n", doc.Workspace.Name, len(doc.Workspace.Projects))
			for _, p := range doc.Workspace.Projects {
				status := "enabled"
				if !p.Indexing.Enabled {
					status = "disabled"
				}
				fmt.Printf("  %-20s %-15s %-10s %s\n", p.ID, p.Type, status, p.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&verifyPaths, "verify-paths", false, "Fail if a project's resolved path does not exist")
	return cmd
}

func newWorkspaceSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <config>",
		Short: "Re-save a workspace config in canonical form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := workspace.Load(args[0], workspace.LoadOptions{})
			if err != nil {
				return fmt.Errorf("workspace invalid: %w", err)
			}
			if err := workspace.Save(doc.Workspace, args[0]); err != nil {
				return fmt.Errorf("failed to save workspace config: %w", err)
			}
			fmt.Printf("Saved %s\n", args[0])
			return nil
		},
	}
}

func newWorkspaceGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph <config>",
		Short: "Print the project dependency order and relationship edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := workspace.Load(args[0], workspace.LoadOptions{})
			if err != nil {
				return fmt.Errorf("workspace invalid: %w", err)
			}

			order, err := doc.Graph.TopologicalOrder()
			if err != nil {
				return fmt.Errorf("dependency graph has a cycle: %w", err)
			}

			fmt.Println("Index order (dependencies first):")
			for i, id := range order {
				fmt.Printf("  %d. %s\n", i+1, id)
			}

			fmt.Println("\nRelationships:")
			for _, rel := range doc.Workspace.Relationships {
				fmt.Printf("  %s --[%s]--> %s\n", rel.FromID, rel.Type, rel.ToID)
			}
			return nil
		},
	}
}

func newWorkspaceStatusCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "status <config>",
		Short: "Show each project's last-known indexing state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := workspace.Load(args[0], workspace.LoadOptions{})
			if err != nil {
				return fmt.Errorf("workspace invalid: %w", err)
			}

			if dbPath == "" {
				dbPath = filepath.Join(filepath.Dir(args[0]), ".ctxgraph-workspace.db")
			}
			store, err := wsstore.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to open workspace store: %w", err)
			}
			defer store.Close()

			info := ui.WorkspaceStatusInfo{WorkspaceName: doc.Workspace.Name}
			for _, p := range doc.Workspace.Projects {
				row, err := store.LoadIndexingState(p.ID)
				status := "uninitialized"
				filesIndexed, errCount := 0, 0
				if err == nil && row != nil {
					status = row.Status
					filesIndexed = row.FilesIndexed
					errCount = row.ErrorCount
				}
				info.Projects = append(info.Projects, ui.WorkspaceProjectStatus{
					ProjectID:    p.ID,
					Status:       status,
					FilesIndexed: filesIndexed,
					Errors:       errCount,
				})
			}

			renderer := ui.NewWorkspaceStatusRenderer(os.Stdout, false)
			return renderer.Render(info)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the workspace state database (default: alongside the config file)")
	return cmd
}
