package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-callback-backend/internal/domain"
)

// CreateLead inserts an accepted submission.
func CreateLead(ctx context.Context, db *gorm.DB, l *domain.Lead) error {
	return db.WithContext(ctx).Create(l).Error
}
