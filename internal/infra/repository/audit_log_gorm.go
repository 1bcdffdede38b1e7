package repository

import (
	"context"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"gorm.io/gorm"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

type auditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) repo.AuditLogRepository {
	return &auditLogGormRepository{db: db}
}

// Create は追記のみ。created_at は呼び出し側の時刻があればそれを使う
func (r *auditLogGormRepository) Create(ctx context.Context, entry model.AuditLog) error {
	return r.db.WithContext(ctx).Create(&entry).Error
}

func (r *auditLogGormRepository) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	logs := []model.AuditLog{}
	err := r.db.WithContext(ctx).
		Scopes(auditFilter(f), auditPage(f.Limit, f.Offset)).
		Order("id DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func auditFilter(f repo.AuditLogFilter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if f.ActorUserID != nil {
			q = q.Where("actor_user_id = ?", *f.ActorUserID)
		}
		if f.Action != nil {
			q = q.Where("action = ?", *f.Action)
		}
		if f.ResourceType != nil {
			q = q.Where("resource_type = ?", *f.ResourceType)
		}
		if f.ResourceID != nil {
			q = q.Where("resource_id = ?", *f.ResourceID)
		}
		if f.CreatedFrom != nil {
			q = q.Where("created_at >= ?", *f.CreatedFrom)
		}
		if f.CreatedTo != nil {
			q = q.Where("created_at <= ?", *f.CreatedTo)
		}
		return q
	}
}

func auditPage(limit, offset int) func(*gorm.DB) *gorm.DB {
	if limit <= 0 || limit > maxAuditLimit {
		limit = defaultAuditLimit
	}
	if offset < 0 {
		offset = 0
	}
	return func(q *gorm.DB) *gorm.DB {
		return q.Limit(limit).Offset(offset)
	}
}
