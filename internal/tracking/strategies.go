package tracking

import (
	"slices"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
	"github.com/lsst-sqre/ltd-keeper-sub000/internal/versiontag"
)

// Strategy decides whether an edition should adopt a candidate build.
// Implementations are pure: no side effects, no I/O. Every strategy must
// tolerate ineligible input (nil arguments, a candidate from another
// product, a candidate that is not uploaded or already deprecated) and
// answer false, even though the orchestrator filters those cases first.
// A published edition must be passed with its CurrentBuild relation
// populated; a nil CurrentBuild reads as "never published".
type Strategy interface {
	ShouldUpdate(p *domain.Product, ed *domain.Edition, b *domain.Build) bool
}

func eligible(p *domain.Product, ed *domain.Edition, b *domain.Build) bool {
	if p == nil || ed == nil || b == nil {
		return false
	}
	if ed.ProductID != p.ID || b.ProductID != p.ID {
		return false
	}
	if ed.Deprecated() {
		return false
	}
	if !b.Uploaded || b.Deprecated() {
		return false
	}
	return true
}

// gitRefsStrategy is the default mode: adopt a build iff its ordered ref
// list equals the edition's tracked ref list exactly.
type gitRefsStrategy struct{}

func (gitRefsStrategy) ShouldUpdate(p *domain.Product, ed *domain.Edition, b *domain.Build) bool {
	if !eligible(p, ed, b) {
		return false
	}
	tracked := ed.TrackedRefList()
	if len(tracked) == 0 {
		return false
	}
	return slices.Equal(tracked, b.GitRefList())
}

// gitRefStrategy adopts a build iff its primary ref equals the edition's
// single tracked ref.
type gitRefStrategy struct{}

func (gitRefStrategy) ShouldUpdate(p *domain.Product, ed *domain.Edition, b *domain.Build) bool {
	if !eligible(p, ed, b) {
		return false
	}
	tracked := ed.TrackedRef()
	if tracked == "" {
		return false
	}
	return tracked == b.PrimaryRef()
}

// manualStrategy never matches: manual editions move only by operator
// repoint.
type manualStrategy struct{}

func (manualStrategy) ShouldUpdate(*domain.Product, *domain.Edition, *domain.Build) bool {
	return false
}

// lsstDocStrategy tracks semantic document tags (vN.M) with a trunk
// bootstrap: while the edition has never left the product's default
// branch, trunk builds keep publishing; once a parsed tag is adopted,
// only an equal or newer tag replaces it.
type lsstDocStrategy struct{}

func (lsstDocStrategy) ShouldUpdate(p *domain.Product, ed *domain.Edition, b *domain.Build) bool {
	if !eligible(p, ed, b) {
		return false
	}
	trunk := p.TrunkRef()
	candidateRef := b.PrimaryRef()
	if candidateRef == trunk {
		// Bootstrap: accept trunk only while the edition is unpublished
		// or still serving a trunk build.
		if ed.CurrentBuild == nil {
			return true
		}
		return ed.CurrentBuild.PrimaryRef() == trunk
	}
	candidate, ok := versiontag.ParseLSSTDoc(candidateRef)
	if !ok {
		return false
	}
	if ed.CurrentBuild == nil {
		return true
	}
	current, ok := versiontag.ParseLSSTDoc(ed.CurrentBuild.PrimaryRef())
	if !ok {
		return true
	}
	return candidate.AtLeast(current)
}

type tagParser func(string) (versiontag.Tag, bool)

func parseMajor(ref string) (versiontag.Tag, bool)  { return versiontag.ParseMajorRelease(ref) }
func parseWeekly(ref string) (versiontag.Tag, bool) { return versiontag.ParseWeeklyRelease(ref) }
func parseDaily(ref string) (versiontag.Tag, bool)  { return versiontag.ParseDailyRelease(ref) }

// eupsReleaseStrategy is the shared shape of the three EUPS release
// modes: unparsable candidate never matches, unparsable (or absent)
// current build always yields to the candidate, otherwise candidate ≥
// current.
type eupsReleaseStrategy struct {
	parse tagParser
}

func (s eupsReleaseStrategy) ShouldUpdate(p *domain.Product, ed *domain.Edition, b *domain.Build) bool {
	if !eligible(p, ed, b) {
		return false
	}
	candidate, ok := s.parse(b.PrimaryRef())
	if !ok {
		return false
	}
	if ed.CurrentBuild == nil {
		return true
	}
	current, ok := s.parse(ed.CurrentBuild.PrimaryRef())
	if !ok {
		return true
	}
	return candidate.AtLeast(current)
}
