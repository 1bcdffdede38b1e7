package repository

import (
	"context"

	"brickshop/internal/domain/model"
)

type ShipmentRepository interface {
	Create(ctx context.Context, s *model.Shipment) error
	Save(ctx context.Context, s *model.Shipment) error

	FindByOrderID(ctx context.Context, orderID int64, kind model.ShipmentKind) (model.Shipment, error)
	FindByMelhorEnvioID(ctx context.Context, melhorEnvioID string) (model.Shipment, error)
	FindByTrackingCode(ctx context.Context, code string) (model.Shipment, error)

	//追跡履歴は追記のみ
	AppendEvent(ctx context.Context, ev model.TrackingEvent) error
	ListEvents(ctx context.Context, shipmentID int64) ([]model.TrackingEvent, error)
	//最後に記録したもの。無ければ ErrNotFound
	LastEvent(ctx context.Context, shipmentID int64) (model.TrackingEvent, error)
}

type WebhookEventRepository interface {
	//初回なら true。既に記録済みなら false
	Record(ctx context.Context, ev model.WebhookEvent) (bool, error)
}
