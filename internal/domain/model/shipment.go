package model

import "time"

type ShipmentKind string

const (
	ShipmentKindOutbound ShipmentKind = "outbound"
	ShipmentKindReturn   ShipmentKind = "return"
)

// 注文ごとに往路1件・返品1件まで
type Shipment struct {
	ID      int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID int64        `gorm:"not null;uniqueIndex:idx_shipments_order_kind" json:"order_id"`
	Kind    ShipmentKind `gorm:"type:varchar(20);not null;default:'outbound';uniqueIndex:idx_shipments_order_kind" json:"kind"`

	MelhorEnvioID string `gorm:"type:varchar(100);index" json:"melhor_envio_id"`
	Protocol      string `gorm:"type:varchar(100)" json:"protocol"`
	TrackingCode  string `gorm:"type:varchar(100);index" json:"tracking_code"`
	LabelURL      string `gorm:"type:varchar(512)" json:"label_url"`
	Status        string `gorm:"type:varchar(50)" json:"status"`

	Paid        bool       `gorm:"not null;default:false" json:"paid"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	Posted      bool       `gorm:"not null;default:false" json:"posted"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	Delivered   bool       `gorm:"not null;default:false" json:"delivered"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Canceled    bool       `gorm:"not null;default:false" json:"canceled"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`

	ServiceID   int64  `gorm:"not null;default:0" json:"service_id"`
	ServiceName string `gorm:"type:varchar(100)" json:"service_name"`
	Carrier     string `gorm:"type:varchar(100)" json:"carrier"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

// 配送業者からのステータス履歴（追記のみ）
type TrackingEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ShipmentID int64     `gorm:"not null;index" json:"shipment_id"`
	Status     string    `gorm:"type:varchar(50);not null" json:"status"`
	Message    string    `gorm:"type:text" json:"message"`
	Location   string    `gorm:"type:varchar(255)" json:"location"`
	Date       time.Time `gorm:"not null;index" json:"date"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}
