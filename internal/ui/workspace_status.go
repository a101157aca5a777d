package ui

import (
	"fmt"
	"io"
)

// WorkspaceProjectStatus is one project's row in the workspace overview.
type WorkspaceProjectStatus struct {
	ProjectID    string
	Status       string // ready, indexing, failed, uninitialized
	FilesIndexed int
	Errors       int
}

// WorkspaceStatusInfo is the full workspace's indexing overview.
type WorkspaceStatusInfo struct {
	WorkspaceName string
	Projects      []WorkspaceProjectStatus
}

// WorkspaceStatusRenderer displays a multi-project workspace's indexing
// overview, mirroring StatusRenderer's single-project layout.
type WorkspaceStatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewWorkspaceStatusRenderer creates a workspace status renderer.
func NewWorkspaceStatusRenderer(out io.Writer, noColor bool) *WorkspaceStatusRenderer {
	return &WorkspaceStatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays the workspace overview to the terminal.
func (r *WorkspaceStatusRenderer) Render(info WorkspaceStatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Workspace: "+info.WorkspaceName))

	for _, p := range info.Projects {
		_, _ = fmt.Fprintf(r.out, "  %-20s %s", p.ProjectID, r.renderProjectStatus(p.Status))
		if p.Status != "uninitialized" {
			_, _ = fmt.Fprintf(r.out, "  (%d files, %d errors)", p.FilesIndexed, p.Errors)
		}
		_, _ = fmt.Fprintln(r.out)
	}

	return nil
}

func (r *WorkspaceStatusRenderer) renderProjectStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "indexing", "initializing":
		return r.styles.Warning.Render(status)
	case "failed":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}
