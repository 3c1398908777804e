package main

import (
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout for the duration of fn and returns what
// was written.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	fn()
	_ = w.Close()
	os.Stdout = oldStdout
	out, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	return string(out)
}

func TestParseSizeBytes(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int64
		wantErr bool
	}{
		{name: "raw bytes", value: "1024", want: 1024},
		{name: "gigabytes short", value: "10G", want: 10 << 30},
		{name: "gigabytes lower", value: "10g", want: 10 << 30},
		{name: "gibibytes", value: "2GiB", want: 2 << 30},
		{name: "gb suffix", value: "4gb", want: 4 << 30},
		{name: "megabytes", value: "512M", want: 512 << 20},
		{name: "mib suffix", value: "512MiB", want: 512 << 20},
		{name: "terabytes", value: "1T", want: 1 << 40},
		{name: "kilobytes", value: "8k", want: 8 << 10},
		{name: "spaces trimmed", value: "  10G  ", want: 10 << 30},
		{name: "empty", value: "", wantErr: true},
		{name: "zero", value: "0", wantErr: true},
		{name: "negative", value: "-5G", wantErr: true},
		{name: "not a number", value: "abc", wantErr: true},
		{name: "unknown suffix", value: "10x", wantErr: true},
		{name: "overflow", value: "99999999999999G", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSizeBytes(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSizeBytes(%q) = %d, want error", tt.value, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSizeBytes(%q): %v", tt.value, err)
			}
			if got != tt.want {
				t.Fatalf("parseSizeBytes(%q) = %d, want %d", tt.value, got, tt.want)
			}
		})
	}
}

func TestSizeString(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{10 << 30, "10G"},
		{1 << 30, "1G"},
		{512 << 20, "512M"},
		{1000, "1000"},
		{(1 << 30) + 1, "1073741825"},
	}
	for _, tt := range tests {
		if got := sizeString(tt.bytes); got != tt.want {
			t.Fatalf("sizeString(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestVisitedFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var name, cluster string
	fs.StringVar(&name, "name", "", "")
	fs.StringVar(&cluster, "cluster", "", "")
	if err := fs.Parse([]string{"--name", "web-01"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	seen := visitedFlags(fs)
	if !seen["name"] {
		t.Fatalf("expected name to be marked as set")
	}
	if seen["cluster"] {
		t.Fatalf("cluster was not set but marked as seen")
	}
}

func TestGateString(t *testing.T) {
	if got := gateString(stepGateView{Valid: true}); got != "ok" {
		t.Fatalf("valid gate = %q, want ok", got)
	}
	if got := gateString(stepGateView{}); got != "invalid" {
		t.Fatalf("invalid gate = %q, want invalid", got)
	}
	if got := gateString(stepGateView{Valid: true, PreventEnter: true}); got != "blocked" {
		t.Fatalf("blocked gate = %q, want blocked", got)
	}
}

func TestOrDash(t *testing.T) {
	if got := orDash(""); got != "-" {
		t.Fatalf("orDash(\"\") = %q", got)
	}
	if got := orDash("  "); got != "-" {
		t.Fatalf("orDash(blank) = %q", got)
	}
	if got := orDash("value"); got != "value" {
		t.Fatalf("orDash(value) = %q", got)
	}
}

func TestWithDaemonHints(t *testing.T) {
	err := errors.New(`request POST /v1/sessions via /run/vmdesk/vmdeskd.sock: dial unix /run/vmdesk/vmdeskd.sock: connect: no such file or directory`)
	decorated := withDaemonHints(err, "/run/vmdesk/vmdeskd.sock")
	_, _, hints := describeError(decorated)
	if len(hints) == 0 {
		t.Fatalf("expected hints on connection failure")
	}
	found := false
	for _, hint := range hints {
		if strings.Contains(hint, "vmdeskd") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a hint pointing at the daemon, got %v", hints)
	}

	plain := errors.New("name is required")
	if got := withDaemonHints(plain, "/tmp/x.sock"); got != plain {
		t.Fatalf("non-connection errors should pass through unchanged")
	}
	if withDaemonHints(nil, "/tmp/x.sock") != nil {
		t.Fatalf("nil error should stay nil")
	}
}

func TestReadPasswordFile(t *testing.T) {
	path := t.TempDir() + "/secret"
	if err := os.WriteFile(path, []byte("hunter2\nextra\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := readPasswordFile(path)
	if err != nil {
		t.Fatalf("readPasswordFile: %v", err)
	}
	if got != "hunter2" {
		t.Fatalf("readPasswordFile = %q, want first line only", got)
	}

	if _, err := readPasswordFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	empty := t.TempDir() + "/empty"
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := readPasswordFile(empty); err == nil {
		t.Fatalf("expected error for empty password file")
	}
}

func TestValidateVMName(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"web-01", false},
		{"db_replica.2", false},
		{"", true},
		{"has space", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		err := validateVMName(tt.value)
		if tt.wantErr && err == nil {
			t.Fatalf("validateVMName(%q) = nil, want error", tt.value)
		}
		if !tt.wantErr && err != nil {
			t.Fatalf("validateVMName(%q): %v", tt.value, err)
		}
	}
}

func TestValidatePositiveNumber(t *testing.T) {
	if err := validatePositiveNumber("2048"); err != nil {
		t.Fatalf("validatePositiveNumber(2048): %v", err)
	}
	for _, bad := range []string{"", "0", "-1", "two"} {
		if err := validatePositiveNumber(bad); err == nil {
			t.Fatalf("validatePositiveNumber(%q) = nil, want error", bad)
		}
	}
}

func TestTemplatesForCluster(t *testing.T) {
	templates := []templateView{
		{ID: "blank", Name: "Blank"},
		{ID: "t1", Name: "pinned", ClusterID: "c1"},
		{ID: "t2", Name: "elsewhere", ClusterID: "c2"},
	}
	got := templatesForCluster(templates, "c1")
	if len(got) != 2 {
		t.Fatalf("expected blank + pinned, got %d templates", len(got))
	}
	for _, tmpl := range got {
		if tmpl.ID == "t2" {
			t.Fatalf("template pinned to another cluster leaked through")
		}
	}
}
