package repository

import (
	"context"
	"time"

	"brickshop/internal/domain/model"
	repo "brickshop/internal/repository"

	"gorm.io/gorm"
)

type shipmentGormRepository struct {
	db *gorm.DB
}

func NewShipmentGormRepository(db *gorm.DB) repo.ShipmentRepository {
	return &shipmentGormRepository{db: db}
}

func (r *shipmentGormRepository) Create(ctx context.Context, s *model.Shipment) error {
	return translate(r.db.WithContext(ctx).Create(s).Error)
}

func (r *shipmentGormRepository) Save(ctx context.Context, s *model.Shipment) error {
	return translate(r.db.WithContext(ctx).Save(s).Error)
}

func (r *shipmentGormRepository) FindByOrderID(ctx context.Context, orderID int64, kind model.ShipmentKind) (model.Shipment, error) {
	return r.first(ctx, "order_id = ? AND kind = ?", orderID, kind)
}

func (r *shipmentGormRepository) FindByMelhorEnvioID(ctx context.Context, melhorEnvioID string) (model.Shipment, error) {
	if melhorEnvioID == "" {
		return model.Shipment{}, repo.ErrNotFound
	}
	return r.first(ctx, "melhor_envio_id = ?", melhorEnvioID)
}

func (r *shipmentGormRepository) FindByTrackingCode(ctx context.Context, code string) (model.Shipment, error) {
	if code == "" {
		return model.Shipment{}, repo.ErrNotFound
	}
	return r.first(ctx, "tracking_code = ?", code)
}

func (r *shipmentGormRepository) first(ctx context.Context, query string, args ...interface{}) (model.Shipment, error) {
	var s model.Shipment
	if err := r.db.WithContext(ctx).Where(query, args...).Order("id desc").First(&s).Error; err != nil {
		return model.Shipment{}, translate(err)
	}
	return s, nil
}

func (r *shipmentGormRepository) AppendEvent(ctx context.Context, ev model.TrackingEvent) error {
	if ev.Date.IsZero() {
		ev.Date = time.Now()
	}
	return r.db.WithContext(ctx).Create(&ev).Error
}

// 日時順（同時刻は登録順）
func (r *shipmentGormRepository) ListEvents(ctx context.Context, shipmentID int64) ([]model.TrackingEvent, error) {
	var list []model.TrackingEvent
	if err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Order("date asc, id asc").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *shipmentGormRepository) LastEvent(ctx context.Context, shipmentID int64) (model.TrackingEvent, error) {
	var ev model.TrackingEvent
	if err := r.db.WithContext(ctx).Where("shipment_id = ?", shipmentID).Order("id desc").First(&ev).Error; err != nil {
		return model.TrackingEvent{}, translate(err)
	}
	return ev, nil
}

type webhookEventGormRepository struct {
	db *gorm.DB
}

func NewWebhookEventGormRepository(db *gorm.DB) repo.WebhookEventRepository {
	return &webhookEventGormRepository{db: db}
}

// 一意制約で重複を判定する（insert-or-fail）
func (r *webhookEventGormRepository) Record(ctx context.Context, ev model.WebhookEvent) (bool, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&ev).Error
	})
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
