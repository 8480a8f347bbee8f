package flutter

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/flycli/fly-mcp"
)

var (
	knownPlatforms    = []string{"ios", "android", "web", "macos", "linux", "windows"}
	knownScreenTypes  = []string{"generic", "list", "detail", "form", "settings"}
	knownServiceTypes = []string{"api", "repository", "storage", "analytics"}

	snakeCaseRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	// Directories skipped when walking a project tree for context export.
	walkIgnorePatterns = []string{".git", ".dart_tool", "build", ".idea"}
)

// validatePath resolves requested relative to the workspace root and ensures
// the result, following symlinks, stays inside it. Escapes are reported as
// PermissionDeniedError so they surface with the policy error code.
func validatePath(root, requested string) (string, error) {
	absolute := filepath.Clean(filepath.Join(root, filepath.FromSlash(requested)))

	if !isSubpath(absolute, root) {
		return "", mcp.PermissionDeniedError{
			Reason: fmt.Sprintf("path %s escapes the workspace root", requested),
		}
	}

	// Follow symlinks on the deepest existing ancestor so a link pointing
	// outside the root cannot be used as an escape hatch.
	probe := absolute
	for {
		real, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if !isSubpath(real, root) && filepath.Clean(real) != filepath.Clean(root) {
				return "", mcp.PermissionDeniedError{
					Reason: fmt.Sprintf("path %s resolves outside the workspace root", requested),
				}
			}
			return absolute, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve %s: %w", requested, err)
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			return absolute, nil
		}
		probe = parent
	}
}

func isSubpath(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func validateSnakeCase(field, value string) error {
	if !snakeCaseRe.MatchString(value) {
		return mcp.InvalidParamsError{
			InvalidFields: map[string]string{
				field: fmt.Sprintf("%q must be snake_case: lowercase letters, digits, underscores", value),
			},
		}
	}
	return nil
}

func validatePlatforms(platforms []string) error {
	for _, p := range platforms {
		known := false
		for _, k := range knownPlatforms {
			if p == k {
				known = true
				break
			}
		}
		if !known {
			return mcp.InvalidParamsError{
				InvalidFields: map[string]string{
					"platforms": fmt.Sprintf("unknown platform %q, expected one of %s", p, strings.Join(knownPlatforms, ", ")),
				},
			}
		}
	}
	return nil
}

// writePlan is the outcome of rendering a scaffold: the files it would create
// keyed by workspace-relative path.
type writePlan struct {
	files map[string]string
}

func (p writePlan) paths() []string {
	out := make([]string, 0, len(p.files))
	for path := range p.files {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// preview renders the plan as unified diffs against the current state of each
// target file, without writing anything.
func (p writePlan) preview(root string) (string, error) {
	var sb strings.Builder
	for _, path := range p.paths() {
		valid, err := validatePath(root, path)
		if err != nil {
			return "", err
		}
		original := ""
		if existing, err := os.ReadFile(valid); err == nil {
			original = string(existing)
		}
		sb.WriteString(createUnifiedDiff(original, p.files[path], path))
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// write materializes the plan under the workspace root, creating parent
// directories as needed. Existing files are refused rather than overwritten:
// scaffolding never clobbers user code.
func (p writePlan) write(root string) ([]string, error) {
	// Refuse before writing anything so a failed plan leaves no partial tree.
	for _, path := range p.paths() {
		valid, err := validatePath(root, path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(valid); err == nil {
			return nil, mcp.InvalidParamsError{
				InvalidFields: map[string]string{"name": fmt.Sprintf("file %s already exists", path)},
			}
		}
	}

	written := make([]string, 0, len(p.files))
	for _, path := range p.paths() {
		valid, err := validatePath(root, path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(valid), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		if err := os.WriteFile(valid, []byte(p.files[path]), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func createUnifiedDiff(original, modified, path string) string {
	dmp := diffmatchpatch.New()

	diffs := dmp.DiffMain(normalizeLineEndings(original), normalizeLineEndings(modified), true)
	patches := dmp.PatchMake(diffs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s (original)\n", path)
	fmt.Fprintf(&sb, "+++ %s (generated)\n", path)
	for _, patch := range patches {
		sb.WriteString(dmp.PatchToText([]diffmatchpatch.Patch{patch}))
	}
	return sb.String()
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// walkProject lists workspace-relative file paths under dir, skipping ignored
// directories. Results are sorted for stable output.
func walkProject(root, dir string) ([]string, error) {
	ignores := make([]glob.Glob, 0, len(walkIgnorePatterns))
	for _, pattern := range walkIgnorePatterns {
		compiled, err := glob.Compile("**/"+pattern+"/**", '/')
		if err != nil {
			return nil, fmt.Errorf("failed to compile ignore pattern %q: %w", pattern, err)
		}
		ignores = append(ignores, compiled)
	}

	base, err := validatePath(root, dir)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			for _, pattern := range walkIgnorePatterns {
				if d.Name() == pattern {
					return filepath.SkipDir
				}
			}
			return nil
		}
		for _, ignore := range ignores {
			if ignore.Match("/" + rel + "/") {
				return nil
			}
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// pascalCase converts a snake_case identifier into PascalCase for Dart class
// names.
func pascalCase(snake string) string {
	parts := strings.Split(snake, "_")
	var sb strings.Builder
	for _, part := range parts {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	return sb.String()
}
