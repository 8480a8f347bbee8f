package flutter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/flycli/fly-mcp"
)

// scaffoldResult is the structured payload returned by the write-capable
// tools.
type scaffoldResult struct {
	Project      string   `json:"project"`
	Template     string   `json:"template,omitempty"`
	Planned      bool     `json:"planned"`
	Files        []string `json:"files"`
	GenerationID string   `json:"generationId,omitempty"`
}

func (s *Server) createProject(
	_ context.Context,
	raw json.RawMessage,
	token *mcp.CancelToken,
	progress *mcp.ProgressNotifier,
) (*mcp.CallToolResult, error) {
	var args createProjectArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, mcp.InvalidParamsError{Cause: err.Error()}
	}
	if err := validateSnakeCase("name", args.Name); err != nil {
		return nil, err
	}
	if err := validatePlatforms(args.Platforms); err != nil {
		return nil, err
	}
	tpl, ok := projectTemplates[args.Template]
	if !ok {
		return nil, mcp.InvalidParamsError{
			InvalidFields: map[string]string{"template": fmt.Sprintf("unknown template %q", args.Template)},
		}
	}

	progress.Notify("rendering "+args.Template+" template", 10)
	plan, err := tpl.render(templateData{
		Name:         args.Name,
		Class:        pascalCase(args.Name),
		Organization: args.Organization,
		Platforms:    args.Platforms,
		Template:     args.Template,
	})
	if err != nil {
		return nil, err
	}
	if err := token.Err(); err != nil {
		return nil, err
	}

	if args.Plan {
		progress.Notify("building plan preview", 60)
		return s.planResult(plan, scaffoldResult{
			Project:  args.Name,
			Template: args.Template,
			Planned:  true,
			Files:    plan.paths(),
		})
	}

	progress.Notify("writing project files", 60)
	written, err := plan.write(s.root)
	if err != nil {
		return nil, err
	}

	genID := s.recordGeneration("create_project", args.Name, raw, written)
	progress.Notify("project created", 100)
	s.logger.Info("created project",
		slog.String("project", args.Name),
		slog.String("template", args.Template),
		slog.Int("files", len(written)))

	return s.writeResult(
		fmt.Sprintf("Created project %s from the %s template (%d files).", args.Name, args.Template, len(written)),
		scaffoldResult{
			Project:      args.Name,
			Template:     args.Template,
			Files:        written,
			GenerationID: genID,
		})
}

func (s *Server) addScreen(
	_ context.Context,
	raw json.RawMessage,
	token *mcp.CancelToken,
	progress *mcp.ProgressNotifier,
) (*mcp.CallToolResult, error) {
	var args addScreenArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, mcp.InvalidParamsError{Cause: err.Error()}
	}
	if err := validateSnakeCase("name", args.Name); err != nil {
		return nil, err
	}
	if err := validateSnakeCase("feature", args.Feature); err != nil {
		return nil, err
	}
	project, err := s.findProject(args.Feature)
	if err != nil {
		return nil, err
	}

	progress.Notify("rendering screen "+args.Name, 20)
	plan, err := screenFiles(project, args)
	if err != nil {
		return nil, err
	}
	if err := token.Err(); err != nil {
		return nil, err
	}

	if args.Plan {
		return s.planResult(plan, scaffoldResult{Project: project, Planned: true, Files: plan.paths()})
	}

	written, err := plan.write(s.root)
	if err != nil {
		return nil, err
	}

	genID := s.recordGeneration("add_screen", project, raw, written)
	progress.Notify("screen added", 100)
	s.logger.Info("added screen",
		slog.String("project", project),
		slog.String("screen", args.Name),
		slog.String("feature", args.Feature))

	return s.writeResult(
		fmt.Sprintf("Added %s screen %s to feature %s (%d files).", args.Type, args.Name, args.Feature, len(written)),
		scaffoldResult{Project: project, Files: written, GenerationID: genID})
}

func (s *Server) addService(
	_ context.Context,
	raw json.RawMessage,
	token *mcp.CancelToken,
	progress *mcp.ProgressNotifier,
) (*mcp.CallToolResult, error) {
	var args addServiceArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, mcp.InvalidParamsError{Cause: err.Error()}
	}
	if err := validateSnakeCase("name", args.Name); err != nil {
		return nil, err
	}
	if err := validateSnakeCase("feature", args.Feature); err != nil {
		return nil, err
	}
	if args.BaseURL != "" && args.Type != "api" {
		return nil, mcp.InvalidParamsError{
			InvalidFields: map[string]string{"base_url": "only api services take a base_url"},
		}
	}
	project, err := s.findProject(args.Feature)
	if err != nil {
		return nil, err
	}

	progress.Notify("rendering service "+args.Name, 20)
	plan, err := serviceFiles(project, args)
	if err != nil {
		return nil, err
	}
	if err := token.Err(); err != nil {
		return nil, err
	}

	if args.Plan {
		return s.planResult(plan, scaffoldResult{Project: project, Planned: true, Files: plan.paths()})
	}

	written, err := plan.write(s.root)
	if err != nil {
		return nil, err
	}

	genID := s.recordGeneration("add_service", project, raw, written)
	progress.Notify("service added", 100)
	s.logger.Info("added service",
		slog.String("project", project),
		slog.String("service", args.Name),
		slog.String("type", args.Type))

	return s.writeResult(
		fmt.Sprintf("Added %s service %s to feature %s (%d files).", args.Type, args.Name, args.Feature, len(written)),
		scaffoldResult{Project: project, Files: written, GenerationID: genID})
}

// findProject locates the single project directory under the workspace root.
// The workspace hosts one project at a time; tools that extend a project
// refuse to guess between several.
func (s *Server) findProject(feature string) (string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return "", fmt.Errorf("failed to read workspace root: %w", err)
	}

	var projects []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), "pubspec.yaml")); err == nil {
			projects = append(projects, entry.Name())
		}
	}

	switch len(projects) {
	case 0:
		return "", mcp.InvalidParamsError{
			Cause: "no Flutter project found under the workspace root; run create_project first",
		}
	case 1:
		return projects[0], nil
	default:
		return "", mcp.InvalidParamsError{
			Cause: fmt.Sprintf("multiple projects found (%s); feature %q is ambiguous",
				strings.Join(projects, ", "), feature),
		}
	}
}

func (s *Server) planResult(plan writePlan, result scaffoldResult) (*mcp.CallToolResult, error) {
	preview, err := plan.preview(s.root)
	if err != nil {
		return nil, err
	}

	structured, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal plan result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{{Type: mcp.ContentTypeText, Text: preview}},
		StructuredContent: structured,
	}, nil
}

func (s *Server) writeResult(summary string, result scaffoldResult) (*mcp.CallToolResult, error) {
	structured, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{{Type: mcp.ContentTypeText, Text: summary}},
		StructuredContent: structured,
	}, nil
}

// recordGeneration writes to the cache when one is attached. Cache failures
// are logged, never surfaced: the scaffold already succeeded.
func (s *Server) recordGeneration(tool, project string, args json.RawMessage, files []string) string {
	if s.cache == nil {
		return ""
	}
	id, err := s.cache.RecordGeneration(Generation{
		Tool:      tool,
		Project:   project,
		Arguments: args,
		Files:     files,
	})
	if err != nil {
		s.logger.Error("failed to record generation", slog.String("err", err.Error()))
		return ""
	}
	return id
}
