package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// When Tx is nil, repositories fall back to their own database handle.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
