package relay

import (
	"context"

	"github.com/bondai/universal-reporter/pkg/db/models"
	"gorm.io/gorm"
)

// GormStore writes delivery audit rows through gorm.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Record(ctx context.Context, delivery *models.RelayDelivery) error {
	return s.db.WithContext(ctx).Create(delivery).Error
}

// Recent lists the newest deliveries for an origin domain; an empty domain
// lists across all origins.
func (s *GormStore) Recent(ctx context.Context, originDomain string, limit int) ([]models.RelayDelivery, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if originDomain != "" {
		q = q.Where("origin_domain = ?", originDomain)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.RelayDelivery
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
