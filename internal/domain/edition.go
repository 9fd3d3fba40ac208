package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Edition slug reserved for a product's default published location.
const MainEditionSlug = "main"

// Edition is a stable published location repointed over time to different
// builds according to its tracking mode. The surrogate key is assigned at
// creation and survives renames and repoints; it is the unit of CDN
// invalidation for the edition's published content.
type Edition struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProductID      uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_edition_product_slug" json:"product_id"`
	Slug           string         `gorm:"not null;column:slug;uniqueIndex:ux_edition_product_slug" json:"slug"`
	Title          string         `gorm:"not null;column:title" json:"title"`
	BuildID        *uuid.UUID     `gorm:"type:uuid;column:build_id;index" json:"build_id,omitempty"`
	CurrentBuild   *Build         `gorm:"foreignKey:BuildID;references:ID" json:"-"`
	TrackingModeID int            `gorm:"not null;default:1;column:tracking_mode_id" json:"-"`
	TrackedRefs    datatypes.JSON `gorm:"column:tracked_refs;type:jsonb" json:"tracked_refs"`
	PendingRebuild bool           `gorm:"not null;default:false;column:pending_rebuild" json:"pending_rebuild"`
	SurrogateKey   string         `gorm:"not null;column:surrogate_key" json:"surrogate_key"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"date_created"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"-"`
	RebuiltAt      *time.Time     `gorm:"column:rebuilt_at" json:"date_rebuilt,omitempty"`
	EndedAt        *time.Time     `gorm:"column:ended_at;index" json:"date_ended,omitempty"`
}

func (Edition) TableName() string { return "edition" }

// TrackedRefList decodes the ordered refs this edition tracks. Modes that
// track a single ref read only the first element.
func (e *Edition) TrackedRefList() []string {
	if len(e.TrackedRefs) == 0 {
		return nil
	}
	var refs []string
	if err := json.Unmarshal(e.TrackedRefs, &refs); err != nil {
		return nil
	}
	return refs
}

// TrackedRef is the single ref for one-ref modes, or "" when unset.
func (e *Edition) TrackedRef() string {
	refs := e.TrackedRefList()
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}

// Published reports whether the edition has ever served a build.
func (e *Edition) Published() bool {
	return e.BuildID != nil
}

// Deprecated reports whether the edition has been retired. Terminal.
func (e *Edition) Deprecated() bool {
	return e.EndedAt != nil
}

// BucketPrefix is the object store prefix the edition serves from. The
// prefix is uniform across editions; only the published URL treats the
// main edition specially.
func (e *Edition) BucketPrefix(productSlug string) string {
	return fmt.Sprintf("%s/v/%s", productSlug, e.Slug)
}

// PublishedURL is the public URL of the edition. The main edition is
// served at the product root; every other edition under /v/<slug>/.
func (e *Edition) PublishedURL(p *Product) string {
	if e.Slug == MainEditionSlug {
		return p.PublishedURL()
	}
	return fmt.Sprintf("https://%s/v/%s/", p.Domain(), e.Slug)
}
