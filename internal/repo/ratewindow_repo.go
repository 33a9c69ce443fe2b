package repo

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-callback-backend/internal/domain"
	"github.com/tbourn/go-callback-backend/internal/ratelimit"
)

// RateWindowStore persists submission windows in the rate_windows table.
// Each hit runs in a transaction; hits within one process are additionally
// serialized so SQLite never sees two writers for the same window.
type RateWindowStore struct {
	db *gorm.DB
	mu sync.Mutex
}

// NewRateWindowStore returns a ratelimit.Store backed by db.
func NewRateWindowStore(db *gorm.DB) *RateWindowStore {
	return &RateWindowStore{db: db}
}

var _ ratelimit.Store = (*RateWindowStore)(nil)

func (s *RateWindowStore) Hit(ctx context.Context, key string, now time.Time, window time.Duration) (ratelimit.Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out ratelimit.Window
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row domain.RateWindow
		err := tx.Where("key = ?", key).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = domain.RateWindow{Key: key, Count: 1, WindowStart: now.UTC()}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		case now.Sub(row.WindowStart) < window:
			row.Count++
			if err := tx.Model(&domain.RateWindow{}).Where("key = ?", key).
				Update("count", row.Count).Error; err != nil {
				return err
			}
		default:
			row.Count = 1
			row.WindowStart = now.UTC()
			if err := tx.Model(&domain.RateWindow{}).Where("key = ?", key).
				Updates(map[string]any{"count": 1, "window_start": row.WindowStart}).Error; err != nil {
				return err
			}
		}
		out = ratelimit.Window{Count: row.Count, Start: row.WindowStart}
		return nil
	})
	return out, err
}

// PruneRateWindows deletes windows that started before cutoff.
func PruneRateWindows(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("window_start < ?", cutoff.UTC()).Delete(&domain.RateWindow{})
	return res.RowsAffected, res.Error
}
