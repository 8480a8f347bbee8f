package flutter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/flycli/fly-mcp"
)

// DoctorCheck is the outcome of a single diagnostic probe.
type DoctorCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// DoctorReport aggregates every diagnostic probe of one run.
type DoctorReport struct {
	Healthy bool          `json:"healthy"`
	Checks  []DoctorCheck `json:"checks"`
}

// Diagnose probes the environment: toolchain binaries, workspace access, and
// cache health. The outcome is recorded in the cache when one is attached.
func (s *Server) Diagnose() DoctorReport {
	checks := []DoctorCheck{
		s.checkBinary("flutter"),
		s.checkBinary("dart"),
		s.checkWorkspace(),
		s.checkCache(),
	}

	report := DoctorReport{Healthy: true, Checks: checks}
	var failures []string
	for _, check := range checks {
		if !check.OK {
			report.Healthy = false
			failures = append(failures, check.Name)
		}
	}

	if s.cache != nil {
		if err := s.cache.RecordDoctorRun(DoctorRun{Healthy: report.Healthy, Failures: failures}); err != nil {
			s.logger.Error("failed to record doctor run", slog.String("err", err.Error()))
		}
	}
	return report
}

func (s *Server) doctor(
	_ context.Context,
	_ json.RawMessage,
	token *mcp.CancelToken,
	progress *mcp.ProgressNotifier,
) (*mcp.CallToolResult, error) {
	report := s.Diagnose()
	if err := token.Err(); err != nil {
		return nil, err
	}
	progress.Notify("diagnostics complete", 100)

	structured, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal doctor report: %w", err)
	}

	var sb strings.Builder
	for _, check := range report.Checks {
		mark := "ok"
		if !check.OK {
			mark = "FAIL"
		}
		fmt.Fprintf(&sb, "[%s] %s", mark, check.Name)
		if check.Details != "" {
			fmt.Fprintf(&sb, ": %s", check.Details)
		}
		sb.WriteString("\n")
	}

	return &mcp.CallToolResult{
		Content:           []mcp.Content{{Type: mcp.ContentTypeText, Text: sb.String()}},
		StructuredContent: structured,
	}, nil
}

func (s *Server) checkBinary(name string) DoctorCheck {
	path, err := exec.LookPath(name)
	if err != nil {
		return DoctorCheck{Name: name, Details: "not found on PATH"}
	}
	return DoctorCheck{Name: name, OK: true, Details: path}
}

func (s *Server) checkWorkspace() DoctorCheck {
	probe := filepath.Join(s.root, ".fly-doctor-probe")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return DoctorCheck{Name: "workspace", Details: fmt.Sprintf("not writable: %v", err)}
	}
	_ = os.Remove(probe)
	return DoctorCheck{Name: "workspace", OK: true, Details: s.root}
}

func (s *Server) checkCache() DoctorCheck {
	if s.cache == nil {
		return DoctorCheck{Name: "cache", OK: true, Details: "disabled"}
	}
	if _, err := s.cache.Generations(1); err != nil {
		return DoctorCheck{Name: "cache", Details: err.Error()}
	}
	return DoctorCheck{Name: "cache", OK: true}
}

type versionInfo struct {
	Version   string   `json:"version"`
	Templates []string `json:"templates"`
}

func (s *Server) version(
	_ context.Context,
	_ json.RawMessage,
	_ *mcp.CancelToken,
	_ *mcp.ProgressNotifier,
) (*mcp.CallToolResult, error) {
	templates := make([]string, 0, len(projectTemplates))
	for name := range projectTemplates {
		templates = append(templates, name)
	}
	sort.Strings(templates)

	structured, err := json.Marshal(versionInfo{Version: Version, Templates: templates})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal version info: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{{
			Type: mcp.ContentTypeText,
			Text: fmt.Sprintf("fly-mcp %s (templates: %s)", Version, strings.Join(templates, ", ")),
		}},
		StructuredContent: structured,
	}, nil
}
