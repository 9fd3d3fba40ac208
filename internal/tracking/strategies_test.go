package tracking

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lsst-sqre/ltd-keeper-sub000/internal/domain"
)

func testProduct() *domain.Product {
	return &domain.Product{
		ID:            uuid.New(),
		Slug:          "pipelines",
		DefaultBranch: "main",
	}
}

func testEdition(p *domain.Product, tracked ...string) *domain.Edition {
	return &domain.Edition{
		ID:          uuid.New(),
		ProductID:   p.ID,
		Slug:        "main",
		TrackedRefs: domain.GitRefsJSON(tracked),
	}
}

func uploadedBuild(p *domain.Product, refs ...string) *domain.Build {
	return &domain.Build{
		ID:        uuid.New(),
		ProductID: p.ID,
		Slug:      uuid.NewString()[:8],
		GitRefs:   domain.GitRefsJSON(refs),
		Uploaded:  true,
	}
}

func pointAt(ed *domain.Edition, b *domain.Build) {
	id := b.ID
	ed.BuildID = &id
	ed.CurrentBuild = b
}

func TestManualStrategy_AlwaysFalse(t *testing.T) {
	s := NewRegistry().StrategyFor(ModeManual)
	if s.ShouldUpdate(nil, nil, nil) {
		t.Fatalf("manual must be false for nil input")
	}
	p := testProduct()
	ed := testEdition(p, "main")
	b := uploadedBuild(p, "main")
	if s.ShouldUpdate(p, ed, b) {
		t.Fatalf("manual must be false even for an eligible candidate")
	}
}

func TestStrategies_RejectIneligibleCandidates(t *testing.T) {
	r := NewRegistry()
	p := testProduct()
	for _, name := range r.Names() {
		mode, _ := r.ModeID(name)
		s := r.StrategyFor(mode)

		if s.ShouldUpdate(nil, nil, nil) {
			t.Fatalf("%s: nil input must be false", name)
		}

		ed := testEdition(p, "main")
		pending := uploadedBuild(p, "main")
		pending.Uploaded = false
		if s.ShouldUpdate(p, ed, pending) {
			t.Fatalf("%s: non-uploaded candidate must be false", name)
		}

		ended := time.Now()
		deprecated := uploadedBuild(p, "main")
		deprecated.EndedAt = &ended
		if s.ShouldUpdate(p, ed, deprecated) {
			t.Fatalf("%s: deprecated candidate must be false", name)
		}

		other := testProduct()
		foreign := uploadedBuild(other, "main")
		if s.ShouldUpdate(p, ed, foreign) {
			t.Fatalf("%s: candidate from another product must be false", name)
		}
	}
}

func TestGitRefsStrategy_OrderSensitiveEquality(t *testing.T) {
	s := NewRegistry().StrategyFor(ModeGitRefs)
	p := testProduct()
	ed := testEdition(p, "a", "b")

	if !s.ShouldUpdate(p, ed, uploadedBuild(p, "a", "b")) {
		t.Fatalf("identical ref lists should match")
	}
	if s.ShouldUpdate(p, ed, uploadedBuild(p, "b", "a")) {
		t.Fatalf("reordered ref lists must not match")
	}
	if s.ShouldUpdate(p, ed, uploadedBuild(p, "a")) {
		t.Fatalf("shorter ref list must not match")
	}
	if s.ShouldUpdate(p, testEdition(p), uploadedBuild(p, "a")) {
		t.Fatalf("edition with no tracked refs must not match")
	}
}

func TestGitRefStrategy_SingleRefEquality(t *testing.T) {
	s := NewRegistry().StrategyFor(ModeGitRef)
	p := testProduct()
	ed := testEdition(p, "tickets/DM-1234")

	if !s.ShouldUpdate(p, ed, uploadedBuild(p, "tickets/DM-1234")) {
		t.Fatalf("matching primary ref should update")
	}
	if s.ShouldUpdate(p, ed, uploadedBuild(p, "main")) {
		t.Fatalf("different ref must not update")
	}
	if s.ShouldUpdate(p, testEdition(p), uploadedBuild(p, "main")) {
		t.Fatalf("edition with no tracked ref must not update")
	}
}

func TestLSSTDocStrategy_TrunkBootstrapThenTags(t *testing.T) {
	s := NewRegistry().StrategyFor(ModeLSSTDoc)
	p := testProduct()
	ed := testEdition(p)

	// Unpublished edition accepts trunk.
	trunk1 := uploadedBuild(p, "main")
	if !s.ShouldUpdate(p, ed, trunk1) {
		t.Fatalf("unpublished edition should accept a trunk build")
	}
	pointAt(ed, trunk1)

	// Still on trunk, another trunk build is accepted.
	trunk2 := uploadedBuild(p, "main")
	if !s.ShouldUpdate(p, ed, trunk2) {
		t.Fatalf("edition on trunk should keep accepting trunk builds")
	}
	pointAt(ed, trunk2)

	// First tagged build replaces trunk.
	v10 := uploadedBuild(p, "v1.0")
	if !s.ShouldUpdate(p, ed, v10) {
		t.Fatalf("tagged build should replace a trunk build")
	}
	pointAt(ed, v10)

	// Once on a tag, trunk builds are rejected.
	if s.ShouldUpdate(p, ed, uploadedBuild(p, "main")) {
		t.Fatalf("trunk build must not replace a tagged build")
	}
	// Older tag rejected.
	if s.ShouldUpdate(p, ed, uploadedBuild(p, "v0.9")) {
		t.Fatalf("older tag must not replace a newer one")
	}
	// Equal tag re-accepted (idempotent re-publication).
	if !s.ShouldUpdate(p, ed, uploadedBuild(p, "v1.0")) {
		t.Fatalf("equal tag should be re-accepted")
	}
	// Newer tag accepted.
	if !s.ShouldUpdate(p, ed, uploadedBuild(p, "v1.1")) {
		t.Fatalf("newer tag should be accepted")
	}
	// Unparsable candidate rejected.
	if s.ShouldUpdate(p, ed, uploadedBuild(p, "tickets/DM-1")) {
		t.Fatalf("unparsable candidate ref must be rejected")
	}
}

func TestLSSTDocStrategy_CustomTrunk(t *testing.T) {
	s := NewRegistry().StrategyFor(ModeLSSTDoc)
	p := testProduct()
	p.DefaultBranch = "master"
	ed := testEdition(p)

	if !s.ShouldUpdate(p, ed, uploadedBuild(p, "master")) {
		t.Fatalf("custom trunk name should bootstrap")
	}
	if s.ShouldUpdate(p, ed, uploadedBuild(p, "main")) {
		t.Fatalf("non-trunk, non-tag ref must be rejected")
	}
}

func TestLSSTDocStrategy_UnparsableCurrentYields(t *testing.T) {
	s := NewRegistry().StrategyFor(ModeLSSTDoc)
	p := testProduct()
	ed := testEdition(p)
	pointAt(ed, uploadedBuild(p, "tickets/DM-999"))

	if !s.ShouldUpdate(p, ed, uploadedBuild(p, "v2.0")) {
		t.Fatalf("tagged candidate should replace an unparsable current ref")
	}
}

func TestEUPSStrategies_TagOrdering(t *testing.T) {
	r := NewRegistry()
	p := testProduct()

	cases := []struct {
		mode    Mode
		older   string
		newer   string
		garbage string
	}{
		{ModeEUPSMajorRelease, "v14_0", "v15_0", "w_2018_01"},
		{ModeEUPSWeeklyRelease, "w_2018_01", "w_2018_02", "v14_0"},
		{ModeEUPSDailyRelease, "d_2018_01_31", "d_2018_02_01", "w_2018_01"},
	}
	for _, tc := range cases {
		name, _ := r.ModeName(tc.mode)
		s := r.StrategyFor(tc.mode)

		ed := testEdition(p)
		older := uploadedBuild(p, tc.older)
		if !s.ShouldUpdate(p, ed, older) {
			t.Fatalf("%s: unpublished edition should accept %q", name, tc.older)
		}
		pointAt(ed, older)

		if !s.ShouldUpdate(p, ed, uploadedBuild(p, tc.newer)) {
			t.Fatalf("%s: %q should replace %q", name, tc.newer, tc.older)
		}
		if !s.ShouldUpdate(p, ed, uploadedBuild(p, tc.older)) {
			t.Fatalf("%s: equal tag should be re-accepted", name)
		}

		pointAt(ed, uploadedBuild(p, tc.newer))
		if s.ShouldUpdate(p, ed, uploadedBuild(p, tc.older)) {
			t.Fatalf("%s: older tag must not replace %q", name, tc.newer)
		}
		if s.ShouldUpdate(p, ed, uploadedBuild(p, tc.garbage)) {
			t.Fatalf("%s: %q must not parse for this mode", name, tc.garbage)
		}
	}
}
