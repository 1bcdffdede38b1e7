package model

import "time"

// 受信済みWebhookの記録（provider + event_id で一意）
type WebhookEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Provider   string    `gorm:"type:varchar(30);not null;uniqueIndex:idx_webhook_provider_event"`
	EventID    string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_webhook_provider_event"`
	EventType  string    `gorm:"type:varchar(100);not null"`
	ReceivedAt time.Time `gorm:"not null"`
}
