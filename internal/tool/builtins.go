package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type builtin struct {
	id          string
	category    string
	description string
	cost        float64
	verb        string
}

var builtins = []builtin{
	{"code_generation", "code", "Generate source code for a described component", 0.5, "generate code"},
	{"file_read", "filesystem", "Read a file from the workspace", 0.05, "read file"},
	{"file_write", "filesystem", "Write content to a file in the workspace", 0.1, "write file"},
	{"code_execution", "code", "Run a snippet in a sandbox", 0.3, "execute code"},
	{"log_analysis", "observability", "Scan logs for errors and anomalies", 0.2, "analyze logs"},
	{"data_query", "data", "Query a dataset or database", 0.2, "query data"},
	{"visualization", "data", "Render a chart from tabular data", 0.3, "render chart"},
	{"image_generation", "design", "Generate an image or mockup", 1.0, "generate image"},
	{"browser_automation", "automation", "Drive a headless browser session", 0.4, "automate browser"},
	{"shell_execution", "system", "Run a shell command", 0.2, "run shell command"},
	{"container_management", "devops", "Build, run or inspect containers", 0.4, "manage containers"},
	{"web_search", "research", "Search the web for references", 0.1, "search the web"},
	{"workflow", "automation", "Trigger a multi-step workflow", 0.3, "run workflow"},
}

// BuiltinIDs lists the ids RegisterBuiltins installs.
func BuiltinIDs() []string {
	ids := make([]string, len(builtins))
	for i, b := range builtins {
		ids[i] = b.id
	}
	return ids
}

// RegisterBuiltins installs dry-run simulators for the catalog's tool tags.
// They report what they would do without touching files, processes or networks.
func RegisterBuiltins(reg *Registry) {
	for _, b := range builtins {
		b := b
		reg.Register(Tool{
			ID:          b.id,
			Description: b.description,
			Category:    b.category,
			CostPerCall: b.cost,
			Handler: func(ctx context.Context, params map[string]any) (any, error) {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				return map[string]any{
					"tool":    b.id,
					"dry_run": true,
					"summary": describe(b.verb, params),
				}, nil
			},
		})
	}
}

// describe renders "verb (k=v, ...)" with keys in sorted order.
func describe(verb string, params map[string]any) string {
	if len(params) == 0 {
		return "would " + verb
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, params[k])
	}
	return fmt.Sprintf("would %s (%s)", verb, strings.Join(parts, ", "))
}
