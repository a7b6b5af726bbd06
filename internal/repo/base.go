// Package repo holds the pieces shared by the gorm-backed ledgers.
package repo

import (
	"context"

	"gorm.io/gorm"
)

// Base binds a repository to one gorm handle, either the pool or an open
// transaction.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the handle scoped to ctx. A nil ctx yields the raw handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// InTx rebinds the base to tx. A nil tx keeps the current handle.
func (b Base) InTx(tx *gorm.DB) Base {
	if tx == nil {
		return b
	}
	return Base{db: tx}
}
