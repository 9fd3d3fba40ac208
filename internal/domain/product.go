package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Product is a documentation-producing unit. It owns one object store
// bucket and publishes one or more editions under its root domain.
type Product struct {
	ID               uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Slug             string    `gorm:"uniqueIndex;not null;column:slug" json:"slug"`
	Title            string    `gorm:"not null;column:title" json:"title"`
	DocRepo          string    `gorm:"not null;column:doc_repo" json:"doc_repo"`
	RootDomain       string    `gorm:"not null;column:root_domain" json:"root_domain"`
	RootFastlyDomain string    `gorm:"not null;column:root_fastly_domain" json:"root_fastly_domain"`
	BucketName       string    `gorm:"not null;column:bucket_name" json:"bucket_name"`
	MainModeID       int       `gorm:"not null;default:1;column:main_mode_id" json:"-"`
	DefaultBranch    string    `gorm:"not null;default:'main';column:default_branch" json:"default_branch"`
	SurrogateKey     string    `gorm:"not null;column:surrogate_key" json:"surrogate_key"`
	CreatedAt        time.Time `gorm:"not null;default:now()" json:"date_created"`
	UpdatedAt        time.Time `gorm:"not null;default:now()" json:"-"`
}

func (Product) TableName() string { return "product" }

// Domain is the fully-qualified host the product publishes under.
func (p *Product) Domain() string {
	return fmt.Sprintf("%s.%s", p.Slug, p.RootDomain)
}

// FastlyDomain is the origin-facing host the CDN routes for this product.
func (p *Product) FastlyDomain() string {
	return fmt.Sprintf("%s.%s", p.Slug, p.RootFastlyDomain)
}

// PublishedURL is the root URL for the product's default edition.
func (p *Product) PublishedURL() string {
	return fmt.Sprintf("https://%s/", p.Domain())
}

// TrunkRef is the git ref treated as the product's development trunk.
func (p *Product) TrunkRef() string {
	if strings.TrimSpace(p.DefaultBranch) == "" {
		return "main"
	}
	return p.DefaultBranch
}

// NewSurrogateKey returns an opaque cache-invalidation token: a UUID4
// rendered as 32 hex characters. Keys are assigned once and never rotated.
func NewSurrogateKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
