// Package tracking decides which build an edition should automatically
// adopt. Each tracking mode pairs a stable persisted identifier with a
// strategy; the registry is the single source of truth for which modes
// exist. Adding a mode means one strategy implementation plus one registry
// entry.
package tracking

import (
	"fmt"
	"strings"
)

// Mode is a tracking mode's stable persisted identifier. The integer
// values are stored on editions and must never be renumbered.
type Mode int

const (
	ModeGitRefs           Mode = 1
	ModeLSSTDoc           Mode = 2
	ModeEUPSMajorRelease  Mode = 3
	ModeEUPSWeeklyRelease Mode = 4
	ModeEUPSDailyRelease  Mode = 5
	ModeManual            Mode = 6
	ModeGitRef            Mode = 7
)

type entry struct {
	mode     Mode
	name     string
	strategy Strategy
}

// Registry maps mode names to identifiers to strategies, in both
// directions. Mode names arrive from untrusted API input; identifiers
// come from storage.
type Registry struct {
	byMode map[Mode]entry
	byName map[string]entry
	names  []string
}

func NewRegistry() *Registry {
	entries := []entry{
		{ModeGitRefs, "git_refs", gitRefsStrategy{}},
		{ModeLSSTDoc, "lsst_doc", lsstDocStrategy{}},
		{ModeEUPSMajorRelease, "eups_major_release", eupsReleaseStrategy{parse: parseMajor}},
		{ModeEUPSWeeklyRelease, "eups_weekly_release", eupsReleaseStrategy{parse: parseWeekly}},
		{ModeEUPSDailyRelease, "eups_daily_release", eupsReleaseStrategy{parse: parseDaily}},
		{ModeManual, "manual", manualStrategy{}},
		{ModeGitRef, "git_ref", gitRefStrategy{}},
	}
	r := &Registry{
		byMode: make(map[Mode]entry, len(entries)),
		byName: make(map[string]entry, len(entries)),
		names:  make([]string, 0, len(entries)),
	}
	for _, e := range entries {
		r.byMode[e.mode] = e
		r.byName[e.name] = e
		r.names = append(r.names, e.name)
	}
	return r
}

// Default is the mode used when an edition does not name one.
func (r *Registry) Default() Mode { return ModeGitRefs }

// ModeID resolves an externally supplied mode name. An empty name
// resolves to the default mode.
func (r *Registry) ModeID(name string) (Mode, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return r.Default(), nil
	}
	e, ok := r.byName[trimmed]
	if !ok {
		return 0, fmt.Errorf("unknown tracking mode %q (valid modes: %s)", name, strings.Join(r.names, ", "))
	}
	return e.mode, nil
}

// ModeName resolves a stored mode identifier back to its wire name.
// Mode 0 is treated as "never set" and resolves to the default mode.
func (r *Registry) ModeName(mode Mode) (string, error) {
	if mode == 0 {
		mode = r.Default()
	}
	e, ok := r.byMode[mode]
	if !ok {
		return "", fmt.Errorf("unknown tracking mode id %d", int(mode))
	}
	return e.name, nil
}

// StrategyFor returns the strategy for a stored mode identifier. Unknown
// identifiers fall back to the default mode's strategy so a corrupt row
// degrades to the least surprising behavior instead of panicking.
func (r *Registry) StrategyFor(mode Mode) Strategy {
	if mode == 0 {
		mode = r.Default()
	}
	if e, ok := r.byMode[mode]; ok {
		return e.strategy
	}
	return r.byMode[r.Default()].strategy
}

// Names lists every registered mode name in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
