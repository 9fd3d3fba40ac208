package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Build is one immutable uploaded snapshot of rendered documentation.
// A build is created in a pending-upload state, becomes uploaded exactly
// once, and may later be deprecated (EndedAt set), which is terminal.
type Build struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ProductID    uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:ux_build_product_slug" json:"product_id"`
	Slug         string         `gorm:"not null;column:slug;uniqueIndex:ux_build_product_slug" json:"slug"`
	GitRefs      datatypes.JSON `gorm:"column:git_refs;type:jsonb" json:"git_refs"`
	GitHash      string         `gorm:"column:git_hash" json:"git_hash,omitempty"`
	Uploaded     bool           `gorm:"not null;default:false;column:uploaded" json:"uploaded"`
	SurrogateKey string         `gorm:"not null;column:surrogate_key" json:"surrogate_key"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"date_created"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"-"`
	EndedAt      *time.Time     `gorm:"column:ended_at;index" json:"date_ended,omitempty"`
}

func (Build) TableName() string { return "build" }

// GitRefList decodes the ordered ref list this build was rendered from.
func (b *Build) GitRefList() []string {
	if len(b.GitRefs) == 0 {
		return nil
	}
	var refs []string
	if err := json.Unmarshal(b.GitRefs, &refs); err != nil {
		return nil
	}
	return refs
}

// PrimaryRef is the first tracked ref, or "" when none are recorded.
func (b *Build) PrimaryRef() string {
	refs := b.GitRefList()
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}

// Deprecated reports whether the build has been retired from selection.
func (b *Build) Deprecated() bool {
	return b.EndedAt != nil
}

// BucketPrefix is the object store prefix holding this build's content.
func (b *Build) BucketPrefix(productSlug string) string {
	return fmt.Sprintf("%s/builds/%s", productSlug, b.Slug)
}

// PublishedURL is the direct (non-edition) URL of the build's content.
func (b *Build) PublishedURL(p *Product) string {
	return fmt.Sprintf("https://%s/builds/%s/", p.Domain(), b.Slug)
}

// GitRefsJSON encodes an ordered ref list for storage.
func GitRefsJSON(refs []string) datatypes.JSON {
	if refs == nil {
		refs = []string{}
	}
	raw, _ := json.Marshal(refs)
	return datatypes.JSON(raw)
}
