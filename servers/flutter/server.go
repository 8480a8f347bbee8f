// Package flutter implements a Flutter project scaffolding server on top of
// the mcp package. It exposes the Fly CLI surface as MCP tools: project
// creation, screen and service scaffolding, project context export, and
// environment diagnostics, plus template manifests as resources and a
// feature-scaffolding prompt.
//
// All file operations are confined to a workspace root configured at
// construction. Write-capable tools support a plan mode that returns a diff
// preview instead of touching the filesystem.
package flutter

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/flycli/fly-mcp"
)

// Version is the server release reported by the version tool and the initialize
// handshake. Overridden at link time by the binary.
var Version = "0.4.0-dev"

// Server holds the workspace-scoped state shared by every tool handler:
// the sandbox root, the scaffold cache, and the logger.
type Server struct {
	root   string
	cache  *Cache
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for scaffolding diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "flutter"))
	}
}

// WithCache attaches a scaffold cache recording every generation.
func WithCache(cache *Cache) Option {
	return func(s *Server) {
		s.cache = cache
	}
}

// NewServer creates a scaffolding server rooted at the given workspace
// directory. The root must exist and be a directory; every path a tool writes
// or reads is validated against it.
func NewServer(root string, opts ...Option) (*Server, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", absRoot)
	}

	s := &Server{
		root:   absRoot,
		logger: slog.Default().With(slog.String("component", "flutter")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute workspace root the server is confined to.
func (s *Server) Root() string {
	return s.root
}

// Register wires every tool, resource, and prompt this server provides into
// the protocol core.
func (s *Server) Register(core *mcp.Server) error {
	tools := []*mcp.ToolDefinition{
		{
			Name:                 "create_project",
			Description:          "Create a new Flutter project from a template. Set plan to preview the generated files as a diff without writing anything.",
			InputSchema:          createProjectSchema(),
			WritesToDisk:         true,
			RequiresConfirmation: true,
			Timeout:              2 * time.Minute,
			MaxConcurrency:       1,
			Handler:              s.createProject,
		},
		{
			Name:                 "add_screen",
			Description:          "Add a screen to an existing project's feature module, optionally with a viewmodel and widget tests.",
			InputSchema:          addScreenSchema(),
			WritesToDisk:         true,
			RequiresConfirmation: true,
			MaxConcurrency:       1,
			Handler:              s.addScreen,
		},
		{
			Name:                 "add_service",
			Description:          "Add a service to an existing project's feature module, optionally with tests and mocks.",
			InputSchema:          addServiceSchema(),
			WritesToDisk:         true,
			RequiresConfirmation: true,
			MaxConcurrency:       1,
			Handler:              s.addService,
		},
		{
			Name:        "export_context",
			Description: "Export a markdown summary of a project (dependencies, structure, conventions) for AI assistants.",
			InputSchema: exportContextSchema(),
			ReadOnly:    true,
			Idempotent:  true,
			Handler:     s.exportContext,
		},
		{
			Name:        "doctor",
			Description: "Run environment diagnostics: toolchain availability, workspace access, cache health.",
			ReadOnly:    true,
			Idempotent:  true,
			Timeout:     15 * time.Second,
			Handler:     s.doctor,
		},
		{
			Name:        "version",
			Description: "Report the server version and supported templates.",
			ReadOnly:    true,
			Idempotent:  true,
			Timeout:     5 * time.Second,
			Handler:     s.version,
		},
	}
	for _, def := range tools {
		if err := core.AddTool(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}

	if err := core.AddResource(&mcp.ResourceDefinition{
		URI:         contextResourceURI,
		Name:        "project-context",
		Description: "Markdown context of the most recently scaffolded project.",
		MimeType:    "text/markdown",
		Handler:     s.readContextResource,
	}); err != nil {
		return fmt.Errorf("failed to register context resource: %w", err)
	}
	if err := core.AddResourceTemplate(&mcp.ResourceTemplateDefinition{
		URITemplate: templateResourceURI + "{name}",
		Name:        "template-manifest",
		Description: "Manifest of a project template: the files it generates and the variables it accepts.",
		MimeType:    "application/json",
		Handler:     s.readTemplateResource,
	}); err != nil {
		return fmt.Errorf("failed to register template resource: %w", err)
	}

	if err := core.AddPrompt(&mcp.PromptDefinition{
		Name:        "scaffold_feature",
		Description: "Guide an assistant through scaffolding a complete feature module with screens and services.",
		Arguments: []mcp.PromptArgument{
			{Name: "feature", Description: "Feature module name in snake_case.", Required: true},
			{Name: "description", Description: "What the feature should do."},
		},
		Handler: s.scaffoldFeaturePrompt,
	}); err != nil {
		return fmt.Errorf("failed to register prompt: %w", err)
	}

	return nil
}
