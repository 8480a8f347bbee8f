package flutter

import (
	"context"
	"fmt"
	"strings"

	"github.com/flycli/fly-mcp"
)

// scaffoldFeaturePrompt renders a guided plan for building out a feature
// module with this server's tools.
func (s *Server) scaffoldFeaturePrompt(
	_ context.Context,
	args map[string]string,
	_ *mcp.CancelToken,
	_ *mcp.ProgressNotifier,
) (mcp.GetPromptResult, error) {
	feature := args["feature"]
	if err := validateSnakeCase("feature", feature); err != nil {
		return mcp.GetPromptResult{}, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Scaffold the %s feature for the current Flutter project.\n\n", feature)
	if description := args["description"]; description != "" {
		fmt.Fprintf(&sb, "Goal: %s\n\n", description)
	}
	fmt.Fprintf(&sb, `Work through these steps, previewing each change with plan=true before writing:

1. Call add_screen with feature=%q for each screen the feature needs, picking
   the closest type (generic, list, detail, form, settings).
2. Call add_service with feature=%q for the data layer: api for remote data,
   repository for domain storage, storage for local persistence.
3. Read fly://context to confirm the generated structure matches the project
   conventions.
4. Run doctor if anything behaves unexpectedly.
`, feature, feature)

	return mcp.GetPromptResult{
		Description: fmt.Sprintf("Scaffolding plan for the %s feature", feature),
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.Content{Type: mcp.ContentTypeText, Text: sb.String()},
		}},
	}, nil
}
