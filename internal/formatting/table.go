// Package formatting renders human-facing views of the application
// definition for the CLI.
package formatting

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"gantry/internal/dependency"
	"gantry/internal/model"
	gstrings "gantry/pkg/strings"
)

// commandColumnWidth keeps long command lines from blowing up the table.
const commandColumnWidth = 48

// ResourceTable renders the resource definitions as a rounded table, one
// row per resource in declaration order.
func ResourceTable(w io.Writer, app *model.Application) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Name", "Kind", "Target", "Endpoints", "Depends On", "Health Checks"})

	for _, r := range app.Resources() {
		t.AppendRow(table.Row{
			r.Name,
			string(r.Kind),
			target(r),
			endpoints(app, r),
			references(r),
			healthChecks(r),
		})
	}
	t.Render()
}

// StartupOrder renders the topological start order as a one-line arrow
// chain.
func StartupOrder(w io.Writer, graph *dependency.Graph) {
	fmt.Fprintf(w, "Startup order: %s\n", strings.Join(graph.TopologicalOrder(), " -> "))
}

func target(r *model.Resource) string {
	switch r.Kind {
	case model.KindContainer:
		return r.Image
	case model.KindExternal:
		return "-"
	default:
		cmd := r.Command
		if args := r.Args(); len(args) > 0 {
			cmd += " " + strings.Join(args, " ")
		}
		return gstrings.Truncate(cmd, commandColumnWidth)
	}
}

func endpoints(app *model.Application, r *model.Resource) string {
	var parts []string
	for _, ep := range r.Endpoints() {
		// Show the allocation when one exists, the declaration otherwise.
		if alloc := app.Allocation(r.Name, ep.Name); alloc != nil {
			parts = append(parts, fmt.Sprintf("%s=%s", ep.Name, alloc.URL()))
			continue
		}
		if ep.Port != 0 {
			parts = append(parts, fmt.Sprintf("%s=:%d", ep.Name, ep.Port))
		} else {
			parts = append(parts, fmt.Sprintf("%s=:auto", ep.Name))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "\n")
}

func references(r *model.Resource) string {
	var parts []string
	for _, ref := range r.References() {
		parts = append(parts, fmt.Sprintf("%s (%s)", ref.Target, ref.WaitFor))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "\n")
}

func healthChecks(r *model.Resource) string {
	var parts []string
	for _, hc := range r.HealthChecks() {
		switch hc.Kind {
		case model.HealthCheckHTTP:
			parts = append(parts, fmt.Sprintf("http %s%s", hc.Endpoint, hc.Path))
		case model.HealthCheckTCP:
			parts = append(parts, fmt.Sprintf("tcp %s", hc.Endpoint))
		default:
			parts = append(parts, string(hc.Kind))
		}
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "\n")
}
