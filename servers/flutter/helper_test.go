package flutter

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flycli/fly-mcp"
)

func TestValidatePath(t *testing.T) {
	root := t.TempDir()

	valid, err := validatePath(root, "app/lib/main.dart")
	if err != nil {
		t.Fatalf("validatePath failed: %v", err)
	}
	if !strings.HasPrefix(valid, root) {
		t.Errorf("validated path %s not under root %s", valid, root)
	}

	var denied mcp.PermissionDeniedError
	if _, err := validatePath(root, "../outside.txt"); !errors.As(err, &denied) {
		t.Errorf("escape via .. returned %v, want PermissionDeniedError", err)
	}
	if _, err := validatePath(root, "app/../../outside.txt"); !errors.As(err, &denied) {
		t.Errorf("nested escape returned %v, want PermissionDeniedError", err)
	}
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("cannot create symlink: %v", err)
	}

	var denied mcp.PermissionDeniedError
	if _, err := validatePath(root, "link/escape.txt"); !errors.As(err, &denied) {
		t.Errorf("symlink escape returned %v, want PermissionDeniedError", err)
	}
}

func TestValidateSnakeCase(t *testing.T) {
	for _, valid := range []string{"app", "my_app", "app2", "a_b_c"} {
		if err := validateSnakeCase("name", valid); err != nil {
			t.Errorf("validateSnakeCase(%q) failed: %v", valid, err)
		}
	}

	var invalid mcp.InvalidParamsError
	for _, bad := range []string{"MyApp", "2app", "my-app", "", "my app"} {
		if err := validateSnakeCase("name", bad); !errors.As(err, &invalid) {
			t.Errorf("validateSnakeCase(%q) returned %v, want InvalidParamsError", bad, err)
		}
	}
}

func TestPascalCase(t *testing.T) {
	tests := map[string]string{
		"home":            "Home",
		"user_profile":    "UserProfile",
		"api_client_v2":   "ApiClientV2",
		"a__b":            "AB",
		"settings_screen": "SettingsScreen",
	}
	for in, want := range tests {
		if got := pascalCase(in); got != want {
			t.Errorf("pascalCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWritePlanWrite(t *testing.T) {
	root := t.TempDir()
	plan := writePlan{files: map[string]string{
		"app/pubspec.yaml":  "name: app\n",
		"app/lib/main.dart": "void main() {}\n",
	}}

	written, err := plan.write(root)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("wrote %d files, want 2", len(written))
	}
	for _, path := range written {
		content, err := os.ReadFile(filepath.Join(root, path))
		if err != nil {
			t.Errorf("written file %s unreadable: %v", path, err)
		}
		if string(content) != plan.files[path] {
			t.Errorf("file %s content = %q, want %q", path, content, plan.files[path])
		}
	}
}

func TestWritePlanRefusesExistingFiles(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "app"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "app", "pubspec.yaml"), []byte("name: app\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan := writePlan{files: map[string]string{
		"app/pubspec.yaml":  "name: overwritten\n",
		"app/lib/main.dart": "void main() {}\n",
	}}

	var invalid mcp.InvalidParamsError
	if _, err := plan.write(root); !errors.As(err, &invalid) {
		t.Fatalf("write over existing file returned %v, want InvalidParamsError", err)
	}

	// Nothing was written: the clash is detected before any file lands.
	if _, err := os.Stat(filepath.Join(root, "app", "lib", "main.dart")); !os.IsNotExist(err) {
		t.Error("partial write happened despite existing-file refusal")
	}
	content, err := os.ReadFile(filepath.Join(root, "app", "pubspec.yaml"))
	if err != nil || string(content) != "name: app\n" {
		t.Error("existing file was modified")
	}
}

func TestWritePlanPreview(t *testing.T) {
	root := t.TempDir()
	plan := writePlan{files: map[string]string{
		"app/lib/main.dart": "void main() {}\n",
	}}

	preview, err := plan.preview(root)
	if err != nil {
		t.Fatalf("preview failed: %v", err)
	}
	if !strings.Contains(preview, "app/lib/main.dart") {
		t.Errorf("preview does not name the planned file:\n%s", preview)
	}

	// Preview never touches the filesystem.
	if _, err := os.Stat(filepath.Join(root, "app")); !os.IsNotExist(err) {
		t.Error("preview created files")
	}
}

func TestWalkProjectSkipsIgnoredDirs(t *testing.T) {
	root := t.TempDir()
	for _, path := range []string{
		"app/lib/main.dart",
		"app/pubspec.yaml",
		"app/.dart_tool/version",
		"app/build/out.bin",
		"app/.git/HEAD",
	} {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	files, err := walkProject(root, "app")
	if err != nil {
		t.Fatalf("walkProject failed: %v", err)
	}

	want := []string{"app/lib/main.dart", "app/pubspec.yaml"}
	if len(files) != len(want) {
		t.Fatalf("walkProject = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}
