package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/jsonschema-go/jsonschema"
)

// ToolHandler executes a single tool call. Arguments have already been
// validated against the tool's input schema and augmented with schema
// defaults. The handler may check the cancel token at its own checkpoints and
// emit progress through the notifier, which is nil-safe.
type ToolHandler func(ctx context.Context, args json.RawMessage, token *CancelToken, progress *ProgressNotifier) (*CallToolResult, error)

// ResourceHandler produces the contents for a resource read. For template
// resources the requested URI is passed through so the handler can extract
// the variable part.
type ResourceHandler func(ctx context.Context, uri string, token *CancelToken, progress *ProgressNotifier) (ReadResourceResult, error)

// PromptHandler renders a prompt with the given arguments. Required arguments
// have already been checked for presence.
type PromptHandler func(ctx context.Context, args map[string]string, token *CancelToken, progress *ProgressNotifier) (GetPromptResult, error)

// ToolDefinition describes a callable tool: its metadata, behavioral flags,
// optional per-tool overrides, and the handler invoked per call. Definitions
// are registered once at server start and immutable thereafter.
type ToolDefinition struct {
	Name        string
	Description string

	// InputSchema describes and validates the tool arguments. A nil schema
	// accepts any JSON object.
	InputSchema *jsonschema.Schema

	ReadOnly             bool
	WritesToDisk         bool
	RequiresConfirmation bool
	Idempotent           bool

	// Timeout overrides the server's default call timeout when positive.
	Timeout time.Duration
	// MaxConcurrency overrides the configured per-tool concurrency limit
	// when positive.
	MaxConcurrency int

	Handler ToolHandler

	rawSchema json.RawMessage
	resolved  *jsonschema.Resolved
}

// ResourceDefinition describes a readable resource addressed by a fixed URI.
type ResourceDefinition struct {
	URI         string
	Name        string
	Description string
	MimeType    string

	Handler ResourceHandler
}

// ResourceTemplateDefinition describes a family of resources addressed by a
// URI template such as "fly://templates/{name}". Reads are matched against
// the template with the variable segments treated as wildcards.
type ResourceTemplateDefinition struct {
	URITemplate string
	Name        string
	Description string
	MimeType    string

	Handler ResourceHandler

	matcher glob.Glob
}

// PromptDefinition describes a prompt template and the arguments it accepts.
type PromptDefinition struct {
	Name        string
	Description string
	Arguments   []PromptArgument

	Handler PromptHandler
}

// validateArguments checks args against the tool's resolved input schema,
// applying schema defaults, and returns the augmented arguments. Structural
// failures are reported as InvalidParamsError.
func (d *ToolDefinition) validateArguments(args json.RawMessage) (json.RawMessage, error) {
	if d.resolved == nil {
		if len(args) == 0 {
			return json.RawMessage("{}"), nil
		}
		return args, nil
	}

	v := make(map[string]any)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &v); err != nil {
			return nil, InvalidParamsError{Cause: fmt.Sprintf("arguments are not a JSON object: %v", err)}
		}
	}
	if err := d.resolved.ApplyDefaults(&v); err != nil {
		return nil, InvalidParamsError{Cause: err.Error()}
	}
	if err := d.resolved.Validate(&v); err != nil {
		return nil, InvalidParamsError{Cause: err.Error()}
	}

	augmented, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments with defaults: %w", err)
	}
	return augmented, nil
}

func (d *ToolDefinition) wire() Tool {
	t := Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.rawSchema,
	}
	if d.ReadOnly || d.WritesToDisk || d.RequiresConfirmation || d.Idempotent {
		t.Annotations = &ToolAnnotations{
			ReadOnly:             d.ReadOnly,
			WritesToDisk:         d.WritesToDisk,
			RequiresConfirmation: d.RequiresConfirmation,
			Idempotent:           d.Idempotent,
		}
	}
	return t
}

// ToolRegistry is a name-keyed lookup table of tool definitions. It performs
// no admission control of its own; that is layered on by the dispatch
// pipeline.
type ToolRegistry struct {
	mu   sync.RWMutex
	defs map[string]*ToolDefinition
}

// NewToolRegistry creates an empty tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{defs: make(map[string]*ToolDefinition)}
}

// Register adds a tool definition, resolving its input schema once. A
// definition with a name already present replaces the previous one.
func (r *ToolRegistry) Register(def *ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %s requires a handler", def.Name)
	}

	if def.InputSchema != nil {
		resolved, err := def.InputSchema.Resolve(nil)
		if err != nil {
			return fmt.Errorf("failed to resolve input schema for tool %s: %w", def.Name, err)
		}
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return fmt.Errorf("failed to marshal input schema for tool %s: %w", def.Name, err)
		}
		def.resolved = resolved
		def.rawSchema = raw
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition registered under name.
func (r *ToolRegistry) Get(name string) (*ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns wire metadata for every registered tool, sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.defs))
	for _, def := range r.defs {
		tools = append(tools, def.wire())
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Len reports the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Call invokes the named tool's handler directly. It raises ToolNotFoundError
// if the name is unknown and recovers handler panics into plain errors.
// Argument validation and admission control are the pipeline's concern.
func (r *ToolRegistry) Call(
	ctx context.Context,
	name string,
	args json.RawMessage,
	token *CancelToken,
	progress *ProgressNotifier,
) (result *CallToolResult, err error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, ToolNotFoundError{Name: name}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("tool %s panicked: %v", name, rec)
		}
	}()

	return def.Handler(ctx, args, token, progress)
}

// ResourceRegistry is a URI-keyed lookup table of resource definitions plus
// an ordered list of resource templates consulted when no fixed URI matches.
type ResourceRegistry struct {
	mu        sync.RWMutex
	defs      map[string]*ResourceDefinition
	templates []*ResourceTemplateDefinition
}

// NewResourceRegistry creates an empty resource registry.
func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{defs: make(map[string]*ResourceDefinition)}
}

// Register adds a fixed-URI resource definition, last write wins.
func (r *ResourceRegistry) Register(def *ResourceDefinition) error {
	if def.URI == "" {
		return fmt.Errorf("resource definition requires a URI")
	}
	if def.Handler == nil {
		return fmt.Errorf("resource %s requires a handler", def.URI)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.URI] = def
	return nil
}

// RegisterTemplate adds a resource template. The variable segments of the
// URI template become single-segment wildcards for read matching.
func (r *ResourceRegistry) RegisterTemplate(def *ResourceTemplateDefinition) error {
	if def.URITemplate == "" {
		return fmt.Errorf("resource template definition requires a URI template")
	}
	if def.Handler == nil {
		return fmt.Errorf("resource template %s requires a handler", def.URITemplate)
	}

	matcher, err := glob.Compile(templateToGlob(def.URITemplate), '/')
	if err != nil {
		return fmt.Errorf("failed to compile matcher for resource template %s: %w", def.URITemplate, err)
	}
	def.matcher = matcher

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = append(r.templates, def)
	return nil
}

// Get returns the definition for a fixed URI, or the first template matching
// the URI.
func (r *ResourceRegistry) Get(uri string) (ResourceHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if def, ok := r.defs[uri]; ok {
		return def.Handler, true
	}
	for _, tpl := range r.templates {
		if tpl.matcher.Match(uri) {
			return tpl.Handler, true
		}
	}
	return nil, false
}

// List returns wire metadata for every fixed-URI resource, sorted by URI.
func (r *ResourceRegistry) List() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]Resource, 0, len(r.defs))
	for _, def := range r.defs {
		resources = append(resources, Resource{
			URI:         def.URI,
			Name:        def.Name,
			Description: def.Description,
			MimeType:    def.MimeType,
		})
	}
	sort.Slice(resources, func(i, j int) bool { return resources[i].URI < resources[j].URI })
	return resources
}

// ListTemplates returns wire metadata for every registered resource template,
// in registration order.
func (r *ResourceRegistry) ListTemplates() []ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]ResourceTemplate, 0, len(r.templates))
	for _, def := range r.templates {
		templates = append(templates, ResourceTemplate{
			URITemplate: def.URITemplate,
			Name:        def.Name,
			Description: def.Description,
			MimeType:    def.MimeType,
		})
	}
	return templates
}

// Len reports the number of registered resources and templates.
func (r *ResourceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs) + len(r.templates)
}

// Read invokes the handler for uri, raising ResourceNotFoundError when
// neither a fixed URI nor a template matches.
func (r *ResourceRegistry) Read(
	ctx context.Context,
	uri string,
	token *CancelToken,
	progress *ProgressNotifier,
) (result ReadResourceResult, err error) {
	handler, ok := r.Get(uri)
	if !ok {
		return ReadResourceResult{}, ResourceNotFoundError{URI: uri}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = ReadResourceResult{}
			err = fmt.Errorf("resource handler for %s panicked: %v", uri, rec)
		}
	}()

	return handler(ctx, uri, token, progress)
}

// PromptRegistry is a name-keyed lookup table of prompt definitions.
type PromptRegistry struct {
	mu   sync.RWMutex
	defs map[string]*PromptDefinition
}

// NewPromptRegistry creates an empty prompt registry.
func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{defs: make(map[string]*PromptDefinition)}
}

// Register adds a prompt definition, last write wins.
func (r *PromptRegistry) Register(def *PromptDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("prompt definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("prompt %s requires a handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Get returns the definition registered under name.
func (r *PromptRegistry) Get(name string) (*PromptDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// List returns wire metadata for every registered prompt, sorted by name.
func (r *PromptRegistry) List() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompts := make([]Prompt, 0, len(r.defs))
	for _, def := range r.defs {
		prompts = append(prompts, Prompt{
			Name:        def.Name,
			Description: def.Description,
			Arguments:   def.Arguments,
		})
	}
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].Name < prompts[j].Name })
	return prompts
}

// Len reports the number of registered prompts.
func (r *PromptRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// validateArguments checks that every required prompt argument is present.
func (d *PromptDefinition) validateArguments(args map[string]string) error {
	var missing []string
	for _, arg := range d.Arguments {
		if !arg.Required {
			continue
		}
		if _, ok := args[arg.Name]; !ok {
			missing = append(missing, arg.Name)
		}
	}
	if len(missing) > 0 {
		return InvalidParamsError{MissingFields: missing}
	}
	return nil
}

// Call invokes the named prompt's handler directly, raising
// PromptNotFoundError if the name is unknown.
func (r *PromptRegistry) Call(
	ctx context.Context,
	name string,
	args map[string]string,
	token *CancelToken,
	progress *ProgressNotifier,
) (result GetPromptResult, err error) {
	def, ok := r.Get(name)
	if !ok {
		return GetPromptResult{}, PromptNotFoundError{Name: name}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = GetPromptResult{}
			err = fmt.Errorf("prompt %s panicked: %v", name, rec)
		}
	}()

	return def.Handler(ctx, args, token, progress)
}

// templateToGlob rewrites the {variable} segments of a URI template into
// single-segment glob wildcards.
func templateToGlob(template string) string {
	out := make([]rune, 0, len(template))
	inVar := false
	for _, r := range template {
		switch {
		case r == '{' && !inVar:
			inVar = true
			out = append(out, '*')
		case r == '}' && inVar:
			inVar = false
		case inVar:
			// Variable names are dropped; matching only needs the shape.
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
