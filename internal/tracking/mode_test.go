package tracking

import (
	"strings"
	"testing"
)

func TestRegistry_RoundTrip(t *testing.T) {
	r := NewRegistry()
	for _, name := range r.Names() {
		mode, err := r.ModeID(name)
		if err != nil {
			t.Fatalf("ModeID(%q): %v", name, err)
		}
		back, err := r.ModeName(mode)
		if err != nil {
			t.Fatalf("ModeName(%d): %v", int(mode), err)
		}
		if back != name {
			t.Fatalf("round trip %q -> %d -> %q", name, int(mode), back)
		}
	}
}

func TestRegistry_StableIdentifiers(t *testing.T) {
	r := NewRegistry()
	want := map[string]Mode{
		"git_refs":            ModeGitRefs,
		"lsst_doc":            ModeLSSTDoc,
		"eups_major_release":  ModeEUPSMajorRelease,
		"eups_weekly_release": ModeEUPSWeeklyRelease,
		"eups_daily_release":  ModeEUPSDailyRelease,
		"manual":              ModeManual,
		"git_ref":             ModeGitRef,
	}
	if len(r.Names()) != len(want) {
		t.Fatalf("registry has %d modes, want %d", len(r.Names()), len(want))
	}
	for name, mode := range want {
		got, err := r.ModeID(name)
		if err != nil {
			t.Fatalf("ModeID(%q): %v", name, err)
		}
		if got != mode {
			t.Fatalf("ModeID(%q) = %d, want %d", name, int(got), int(mode))
		}
	}
}

func TestRegistry_UnknownName(t *testing.T) {
	r := NewRegistry()
	_, err := r.ModeID("deployed_docs")
	if err == nil {
		t.Fatalf("expected validation error for unknown mode name")
	}
	for _, name := range r.Names() {
		if !strings.Contains(err.Error(), name) {
			t.Fatalf("error should list valid mode %q: %v", name, err)
		}
	}
}

func TestRegistry_UnknownID(t *testing.T) {
	r := NewRegistry()
	if _, err := r.ModeName(Mode(99)); err == nil {
		t.Fatalf("expected error for unknown mode id")
	}
}

func TestRegistry_DefaultsForUnset(t *testing.T) {
	r := NewRegistry()
	mode, err := r.ModeID("")
	if err != nil {
		t.Fatalf("ModeID(\"\"): %v", err)
	}
	if mode != ModeGitRefs {
		t.Fatalf("empty mode name should resolve to git_refs, got %d", int(mode))
	}
	name, err := r.ModeName(0)
	if err != nil {
		t.Fatalf("ModeName(0): %v", err)
	}
	if name != "git_refs" {
		t.Fatalf("mode 0 should describe as git_refs, got %q", name)
	}
	if _, ok := r.StrategyFor(0).(gitRefsStrategy); !ok {
		t.Fatalf("StrategyFor(0) should be the git_refs strategy")
	}
}
