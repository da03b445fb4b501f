package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modeguard/modeguard/internal/policy"
	"github.com/modeguard/modeguard/internal/settings"
)

func TestParseModeDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"1h", time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"90s", 90 * time.Second, false},
		{"2d", 48 * time.Hour, false},
		{"0d", 0, true},
		{"-5m", 0, true},
		{"soon", 0, true},
		{"1.5d", 0, true},
	}
	for _, tc := range cases {
		got, err := parseModeDuration(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseModeDuration(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("parseModeDuration(%q) = %v, %v; want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestModeTypeFromFlag(t *testing.T) {
	if modeTypeFromFlag(false) != policy.ModeProject {
		t.Error("default must be project-scoped")
	}
	if modeTypeFromFlag(true) != policy.ModeUser {
		t.Error("--user must select the user-scoped record")
	}
}

func TestResolveIdentityRejectsBadPaths(t *testing.T) {
	for _, path := range []string{"relative/path", "/does/not/exist", "/tmp/../etc"} {
		if _, err := resolveIdentity(path); err == nil {
			t.Errorf("resolveIdentity(%q) succeeded, want error", path)
		}
	}
}

// setupCLI points the command globals and environment at temp state and
// returns the project identity path used.
func setupCLI(t *testing.T) (base, projectDir string) {
	t.Helper()
	base = t.TempDir()
	projectDir = filepath.Join(t.TempDir(), "app")
	if err := os.Mkdir(projectDir, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MODEGUARD_BASE_DIR", base)
	t.Setenv("MODEGUARD_SETTINGS_PATH", filepath.Join(base, "settings.json"))

	enableScope, enableStrict, enableDuration = "all", false, ""
	enableUserScoped, enableProjectPath = false, projectDir
	disableUserScoped, disableProjectPath = false, projectDir
	cleanupProjectPath = projectDir
	dryRun = false
	return base, projectDir
}

func TestEnableDisableRoundTrip(t *testing.T) {
	_, projectDir := setupCLI(t)
	enableScope = "backend"
	enableStrict = true
	enableDuration = "1h"

	before := time.Now()
	if err := runEnable(enableCmd, nil); err != nil {
		t.Fatalf("enable: %v", err)
	}

	g, err := newGate()
	if err != nil {
		t.Fatal(err)
	}
	id, err := resolveIdentity(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := g.store.LoadEffective(id)
	if err != nil || rec == nil {
		t.Fatalf("LoadEffective after enable = %+v, %v", rec, err)
	}
	if rec.Scope != policy.ScopeBackend || !rec.Strict || rec.ModeType != policy.ModeProject {
		t.Errorf("record = %+v", rec)
	}
	if rec.ExpiresAt == nil {
		t.Fatal("duration must set an expiry")
	}
	wantExp := rec.StartedAt.Add(time.Hour)
	if diff := rec.ExpiresAt.Sub(wantExp); diff < -time.Second || diff > time.Second {
		t.Errorf("ExpiresAt = %v, want startedAt+1h (±1s)", rec.ExpiresAt)
	}
	if rec.StartedAt.Before(before.Add(-time.Second)) {
		t.Errorf("StartedAt = %v, too early", rec.StartedAt)
	}

	doc, err := g.mut.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !settings.Registered(doc) {
		t.Fatal("enable must register the hooks")
	}

	if err := runDisable(disableCmd, nil); err != nil {
		t.Fatalf("disable: %v", err)
	}
	rec, err = g.store.LoadEffective(id)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Errorf("record survives disable: %+v", rec)
	}
	doc, err = g.mut.Load()
	if err != nil {
		t.Fatal(err)
	}
	if settings.Registered(doc) {
		t.Error("disable must unregister the hooks")
	}
}

func TestEnableRollsBackRecordOnSettingsFailure(t *testing.T) {
	base, projectDir := setupCLI(t)

	// A corrupt settings document makes the registration stage fail.
	if err := os.WriteFile(filepath.Join(base, "settings.json"), []byte(`{broken`), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := runEnable(enableCmd, nil); err == nil {
		t.Fatal("enable against a corrupt settings document must fail")
	}

	g, err := newGate()
	if err != nil {
		t.Fatal(err)
	}
	id, err := resolveIdentity(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(g.store.StatusPath(id, policy.ModeProject)); !os.IsNotExist(err) {
		t.Error("failed enable must roll the status record back")
	}
	if after, _ := os.ReadFile(filepath.Join(base, "settings.json")); string(after) != `{broken` {
		t.Error("failed enable must leave the settings document untouched")
	}
}

func TestEnableDryRunTouchesNothing(t *testing.T) {
	base, projectDir := setupCLI(t)
	dryRun = true
	defer func() { dryRun = false }()

	if err := runEnable(enableCmd, nil); err != nil {
		t.Fatalf("dry-run enable: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "settings.json")); !os.IsNotExist(err) {
		t.Error("dry-run must not write settings")
	}
	g, _ := newGate()
	id, _ := resolveIdentity(projectDir)
	if _, err := os.Stat(g.store.StatusPath(id, policy.ModeProject)); !os.IsNotExist(err) {
		t.Error("dry-run must not write a record")
	}
}

func TestEnableRejectsBadScope(t *testing.T) {
	setupCLI(t)
	enableScope = "everything"
	if err := runEnable(enableCmd, nil); err == nil {
		t.Error("unknown scope must be rejected before any write")
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	_, projectDir := setupCLI(t)

	if err := runEnable(enableCmd, nil); err != nil {
		t.Fatal(err)
	}
	g, err := newGate()
	if err != nil {
		t.Fatal(err)
	}
	id, err := resolveIdentity(projectDir)
	if err != nil {
		t.Fatal(err)
	}

	if err := runCleanup(cleanupCmd, nil); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if err := runCleanup(cleanupCmd, nil); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	rec, err := g.store.LoadEffective(id)
	if err != nil || rec == nil {
		t.Errorf("cleanup must not remove a valid record: %+v, %v", rec, err)
	}
}

func TestCollectProblems(t *testing.T) {
	base, projectDir := setupCLI(t)

	g, err := newGate()
	if err != nil {
		t.Fatal(err)
	}
	id, err := resolveIdentity(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if got := collectProblems(g, id); len(got) != 0 {
		t.Errorf("clean state reports problems: %v", got)
	}

	if err := os.WriteFile(filepath.Join(base, "settings.json"), []byte(`not json`), 0o644); err != nil {
		t.Fatal(err)
	}
	got := collectProblems(g, id)
	if len(got) == 0 {
		t.Fatal("corrupt settings must surface as a problem")
	}
	if got[0].Area != "settings" {
		t.Errorf("problem = %+v", got[0])
	}
}
