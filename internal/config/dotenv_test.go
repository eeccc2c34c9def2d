package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDotenvBasics(t *testing.T) {
	vars, errs := ParseDotenv(".env", `
# comment
FOO=bar
export BAZ=qux
EMPTY=
SPACED = padded value
`)
	if len(errs) != 0 {
		t.Fatalf("errs = %+v", errs)
	}
	want := map[string]string{
		"FOO":    "bar",
		"BAZ":    "qux",
		"EMPTY":  "",
		"SPACED": "padded value",
	}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("%s = %q, want %q", k, vars[k], v)
		}
	}
}

func TestParseDotenvQuoting(t *testing.T) {
	tests := []struct {
		name, line, want string
	}{
		{"double escapes", `A="line1\nline2\t\"quoted\"\\"`, "line1\nline2\t\"quoted\"\\"},
		{"single literal", `A='no \n escapes # here'`, `no \n escapes # here`},
		{"unquoted comment", `A=value # trailing`, "value"},
		{"unquoted hash no space", `A=val#ue`, "val#ue"},
		{"double keeps hash", `A="value # not a comment"`, "value # not a comment"},
		{"unknown escape kept", `A="a\qb"`, `a\qb`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars, errs := ParseDotenv(".env", tt.line)
			if len(errs) != 0 {
				t.Fatalf("errs = %+v", errs)
			}
			if vars["A"] != tt.want {
				t.Errorf("A = %q, want %q", vars["A"], tt.want)
			}
		})
	}
}

func TestParseDotenvErrors(t *testing.T) {
	vars, errs := ParseDotenv(".env", `GOOD=1
no_equals_line
=value
9BAD=x
BAD-KEY=x
ALSO_GOOD=2`)
	if len(vars) != 2 || vars["GOOD"] != "1" || vars["ALSO_GOOD"] != "2" {
		t.Errorf("vars = %+v", vars)
	}
	wantReasons := []string{
		DotenvMissingEquals,
		DotenvEmptyKey,
		DotenvInvalidKey,
		DotenvInvalidKey,
	}
	if len(errs) != len(wantReasons) {
		t.Fatalf("got %d errors, want %d: %+v", len(errs), len(wantReasons), errs)
	}
	for i, want := range wantReasons {
		if errs[i].Reason != want {
			t.Errorf("errs[%d].Reason = %s, want %s", i, errs[i].Reason, want)
		}
		if errs[i].File != ".env" || errs[i].LineNumber == 0 || errs[i].Raw == "" {
			t.Errorf("errs[%d] missing location: %+v", i, errs[i])
		}
	}
}

func TestLoadDotenvLocalOverrides(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SHARED=base\nONLY_BASE=1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env.local"), []byte("SHARED=local\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	vars, errs := LoadDotenv(dir)
	if len(errs) != 0 {
		t.Fatalf("errs = %+v", errs)
	}
	if vars["SHARED"] != "local" {
		t.Errorf("SHARED = %q, want local override", vars["SHARED"])
	}
	if vars["ONLY_BASE"] != "1" {
		t.Errorf("ONLY_BASE = %q", vars["ONLY_BASE"])
	}
}

func TestLoadTeam(t *testing.T) {
	dir := t.TempDir()
	team := []byte(`members:
  - id: pangu
    prompt: "You are pangu."
  - id: cmdr
    prompt: "You are cmdr."
    diligence-push-max: 5
`)
	if err := os.WriteFile(filepath.Join(dir, "team.yaml"), team, 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadTeam(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !loaded.HasMember("pangu") || !loaded.HasMember("cmdr") {
		t.Error("roster incomplete")
	}
	if loaded.HasMember("stranger") {
		t.Error("stranger on the roster")
	}
	if loaded.MemberPrompt("cmdr") != "You are cmdr." {
		t.Errorf("prompt = %q", loaded.MemberPrompt("cmdr"))
	}
	if loaded.DiligenceMax("pangu") != 3 {
		t.Errorf("pangu budget = %d, want default 3", loaded.DiligenceMax("pangu"))
	}
	if loaded.DiligenceMax("cmdr") != 5 {
		t.Errorf("cmdr budget = %d, want 5", loaded.DiligenceMax("cmdr"))
	}
}

func TestLoadTeamRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	team := []byte("members: []\nteamates: []\n")
	if err := os.WriteFile(filepath.Join(dir, "team.yaml"), team, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTeam(dir, 3); err == nil {
		t.Error("unknown top-level key accepted")
	}
}

func TestLoadTeamRejectsBadMemberID(t *testing.T) {
	dir := t.TempDir()
	team := []byte("members:\n  - id: \"9lives\"\n")
	if err := os.WriteFile(filepath.Join(dir, "team.yaml"), team, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTeam(dir, 3); err == nil {
		t.Error("invalid member id accepted")
	}
}

func TestLoadMCPValidation(t *testing.T) {
	dir := t.TempDir()
	mcp := []byte(`servers:
  - name: files
    transport: stdio
    command: mcp-files
  - name: remote
    transport: http
    url: http://localhost:9000
`)
	if err := os.WriteFile(filepath.Join(dir, "mcp.yaml"), mcp, 0o644); err != nil {
		t.Fatal(err)
	}
	servers, err := LoadMCP(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(servers))
	}

	bad := []byte("servers:\n  - name: broken\n    transport: stdio\n")
	if err := os.WriteFile(filepath.Join(dir, "mcp.yaml"), bad, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMCP(dir); err == nil {
		t.Error("stdio server without command accepted")
	}
}

func TestLoadConfigEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	cfg := []byte(`{
  // json5 comment
  gateway: { host: "0.0.0.0", port: 9999 },
  store: { root: "/tmp/dlg" },
}`)
	path := filepath.Join(dir, "minds.json5")
	if err := os.WriteFile(path, cfg, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINDS_PORT", "7777")
	t.Setenv("MINDS_TOKEN", "secret")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Gateway.Host != "0.0.0.0" {
		t.Errorf("host = %q", loaded.Gateway.Host)
	}
	if loaded.Gateway.Port != 7777 {
		t.Errorf("port = %d, env should win", loaded.Gateway.Port)
	}
	if loaded.Gateway.Token != "secret" {
		t.Errorf("token = %q", loaded.Gateway.Token)
	}
	if loaded.Store.Root != "/tmp/dlg" {
		t.Errorf("store root = %q", loaded.Store.Root)
	}
	if loaded.DiligencePushMax != 3 {
		t.Errorf("diligence default = %d", loaded.DiligencePushMax)
	}
}
