package flutter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flycli/fly-mcp"
)

const (
	contextResourceURI  = "fly://context"
	templateResourceURI = "fly://templates/"
)

// pubspec is the subset of a pubspec.yaml the context export reads.
type pubspec struct {
	Name            string         `yaml:"name"`
	Description     string         `yaml:"description"`
	Version         string         `yaml:"version"`
	Dependencies    map[string]any `yaml:"dependencies"`
	DevDependencies map[string]any `yaml:"dev_dependencies"`
}

func (s *Server) exportContext(
	_ context.Context,
	raw json.RawMessage,
	token *mcp.CancelToken,
	progress *mcp.ProgressNotifier,
) (*mcp.CallToolResult, error) {
	var args exportContextArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, mcp.InvalidParamsError{Cause: err.Error()}
	}
	if err := validateSnakeCase("project", args.Project); err != nil {
		return nil, err
	}

	markdown, err := s.buildContext(args, token, progress)
	if err != nil {
		return nil, err
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: markdown}},
	}, nil
}

// buildContext assembles the project context markdown: header, dependency
// table, file tree, conventions, and recent scaffold history when a cache is
// attached.
func (s *Server) buildContext(args exportContextArgs, token *mcp.CancelToken, progress *mcp.ProgressNotifier) (string, error) {
	pubspecPath, err := validatePath(s.root, filepath.Join(args.Project, "pubspec.yaml"))
	if err != nil {
		return "", err
	}
	pubspecRaw, err := os.ReadFile(pubspecPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", mcp.ResourceNotFoundError{URI: contextResourceURI}
		}
		return "", fmt.Errorf("failed to read pubspec: %w", err)
	}
	var spec pubspec
	if err := yaml.Unmarshal(pubspecRaw, &spec); err != nil {
		return "", fmt.Errorf("failed to parse pubspec: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Project Context: %s\n\n", spec.Name)
	if spec.Description != "" {
		fmt.Fprintf(&sb, "%s\n\n", spec.Description)
	}
	fmt.Fprintf(&sb, "Version: %s\n\n", spec.Version)

	if args.IncludeDependencies == nil || *args.IncludeDependencies {
		progress.Notify("collecting dependencies", 25)
		sb.WriteString("## Dependencies\n\n")
		writeDependencyList(&sb, "Runtime", spec.Dependencies)
		writeDependencyList(&sb, "Development", spec.DevDependencies)
	}
	if err := token.Err(); err != nil {
		return "", err
	}

	if args.IncludeStructure == nil || *args.IncludeStructure {
		progress.Notify("walking project tree", 55)
		files, err := walkProject(s.root, args.Project)
		if err != nil {
			return "", err
		}
		sb.WriteString("## Structure\n\n```\n")
		for _, file := range files {
			sb.WriteString(file)
			sb.WriteString("\n")
		}
		sb.WriteString("```\n\n")
	}
	if err := token.Err(); err != nil {
		return "", err
	}

	if args.IncludeConventions == nil || *args.IncludeConventions {
		sb.WriteString(conventionsSection)
	}

	if s.cache != nil {
		generations, err := s.cache.Generations(10)
		if err == nil && len(generations) > 0 {
			sb.WriteString("## Recent Scaffolds\n\n")
			for _, gen := range generations {
				fmt.Fprintf(&sb, "- %s: %s (%d files) at %s\n",
					gen.Tool, gen.Project, len(gen.Files), gen.CreatedAt.Format("2006-01-02 15:04"))
			}
			sb.WriteString("\n")
		}
	}

	progress.Notify("context ready", 100)
	return sb.String(), nil
}

func writeDependencyList(sb *strings.Builder, title string, deps map[string]any) {
	if len(deps) == 0 {
		return
	}
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(sb, "### %s\n\n", title)
	for _, name := range names {
		version := ""
		if v, ok := deps[name].(string); ok {
			version = " " + v
		}
		fmt.Fprintf(sb, "- %s%s\n", name, version)
	}
	sb.WriteString("\n")
}

const conventionsSection = `## Conventions

- Features live under lib/features/<feature>/ with screens/, viewmodels/, and services/ subdirectories.
- Files are snake_case; classes are PascalCase.
- Screens are suffixed _screen.dart, viewmodels _viewmodel.dart, services _service.dart.
- Tests mirror the lib/ layout under test/.

`

// readContextResource serves fly://context by exporting the context of the
// workspace's single project with every section enabled.
func (s *Server) readContextResource(
	_ context.Context,
	uri string,
	token *mcp.CancelToken,
	progress *mcp.ProgressNotifier,
) (mcp.ReadResourceResult, error) {
	project, err := s.findProject("")
	if err != nil {
		return mcp.ReadResourceResult{}, mcp.ResourceNotFoundError{URI: uri}
	}

	markdown, err := s.buildContext(exportContextArgs{Project: project}, token, progress)
	if err != nil {
		return mcp.ReadResourceResult{}, err
	}

	return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{
		URI:      uri,
		MimeType: "text/markdown",
		Text:     markdown,
	}}}, nil
}

// readTemplateResource serves fly://templates/{name} with the named
// template's manifest.
func (s *Server) readTemplateResource(
	_ context.Context,
	uri string,
	_ *mcp.CancelToken,
	_ *mcp.ProgressNotifier,
) (mcp.ReadResourceResult, error) {
	name := strings.TrimPrefix(uri, templateResourceURI)
	tpl, ok := projectTemplates[name]
	if !ok {
		return mcp.ReadResourceResult{}, mcp.ResourceNotFoundError{URI: uri}
	}

	manifest, err := json.MarshalIndent(tpl.manifest(), "", "  ")
	if err != nil {
		return mcp.ReadResourceResult{}, fmt.Errorf("failed to marshal manifest: %w", err)
	}

	return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{
		URI:      uri,
		MimeType: "application/json",
		Text:     string(manifest),
	}}}, nil
}
