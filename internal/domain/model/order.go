package model

import "time"

type OrderStatus string

const (
	//支払い
	OrderStatusPaymentPending    OrderStatus = "payment_pending"
	OrderStatusPaymentIncomplete OrderStatus = "payment_incomplete"

	//例外
	OrderStatusAbandonedCart OrderStatus = "abandoned_cart"
	OrderStatusAbandonedSale OrderStatus = "abandoned_sale"
	OrderStatusCancelled     OrderStatus = "cancelled"

	//物流
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"

	//返品
	OrderStatusReturnRequested      OrderStatus = "return_requested"
	OrderStatusReturnApproved       OrderStatus = "return_approved"
	OrderStatusReturnLabelGenerated OrderStatus = "return_label_generated"
	OrderStatusReturnInTransit      OrderStatus = "return_in_transit"
	OrderStatusReturnReceived       OrderStatus = "return_received"
	OrderStatusReturnRejected       OrderStatus = "return_rejected"
)

type StatusCategory string

const (
	CategoryPayment   StatusCategory = "payment"
	CategoryException StatusCategory = "exception"
	CategoryLogistics StatusCategory = "logistics"
	CategoryReturn    StatusCategory = "return"
)

var statusCategories = map[OrderStatus]StatusCategory{
	OrderStatusPaymentPending:       CategoryPayment,
	OrderStatusPaymentIncomplete:    CategoryPayment,
	OrderStatusAbandonedCart:        CategoryException,
	OrderStatusAbandonedSale:        CategoryException,
	OrderStatusCancelled:            CategoryException,
	OrderStatusProcessing:           CategoryLogistics,
	OrderStatusShipped:              CategoryLogistics,
	OrderStatusDelivered:            CategoryLogistics,
	OrderStatusReturnRequested:      CategoryReturn,
	OrderStatusReturnApproved:       CategoryReturn,
	OrderStatusReturnLabelGenerated: CategoryReturn,
	OrderStatusReturnInTransit:      CategoryReturn,
	OrderStatusReturnReceived:       CategoryReturn,
	OrderStatusReturnRejected:       CategoryReturn,
}

// IsValid は閉じた集合に含まれるか
func (s OrderStatus) IsValid() bool {
	_, ok := statusCategories[s]
	return ok
}

func (s OrderStatus) Category() StatusCategory {
	return statusCategories[s]
}

type PaymentProvider string

const (
	PaymentProviderMercadoPago PaymentProvider = "mercadopago"
	PaymentProviderStripe      PaymentProvider = "stripe"
)

// 決済ステータス（プロバイダの値を正規化したもの）
const (
	PaymentStatusApproved  = "approved"
	PaymentStatusPending   = "pending"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
)

type Order struct {
	ID        int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64 `gorm:"not null;index;uniqueIndex:idx_orders_user_idem" json:"user_id"`
	AddressID int64 `gorm:"not null" json:"address_id"`

	Status OrderStatus `gorm:"type:varchar(30);not null;index" json:"status"`

	//金額（centavos）
	Subtotal       int64  `gorm:"not null" json:"subtotal"`
	DiscountAmount int64  `gorm:"not null;default:0" json:"discount_amount"`
	ShippingPrice  int64  `gorm:"not null;default:0" json:"shipping_price"`
	Total          int64  `gorm:"not null" json:"total"`
	CouponCode     string `gorm:"type:varchar(64)" json:"coupon_code,omitempty"`

	//決済
	PaymentProvider PaymentProvider `gorm:"type:varchar(20)" json:"payment_provider,omitempty"`
	PaymentID       string          `gorm:"type:varchar(255);index" json:"payment_id,omitempty"`
	PaymentMethod   string          `gorm:"type:varchar(30)" json:"payment_method,omitempty"`
	PaymentStatus   string          `gorm:"type:varchar(30)" json:"payment_status,omitempty"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`

	//配送
	ShippingServiceID    int64  `gorm:"not null;default:0" json:"shipping_service_id,omitempty"`
	ShippingService      string `gorm:"type:varchar(100)" json:"shipping_service,omitempty"`
	ShippingDeliveryTime int    `gorm:"not null;default:0" json:"shipping_delivery_time,omitempty"`
	ShippingTrackingCode string `gorm:"type:varchar(100)" json:"shipping_tracking_code,omitempty"`
	MelhorEnvioOrderID   string `gorm:"type:varchar(100)" json:"melhor_envio_order_id,omitempty"`

	//返品
	ReturnReason          string     `gorm:"type:text" json:"return_reason,omitempty"`
	ReturnRejectionReason string     `gorm:"type:text" json:"return_rejection_reason,omitempty"`
	ReturnRequestedAt     *time.Time `json:"return_requested_at,omitempty"`

	//二重作成防止（user_id と合わせて一意）
	IdempotencyKey  string `gorm:"type:varchar(255);not null;uniqueIndex:idx_orders_user_idem" json:"-"`
	CartFingerprint string `gorm:"type:varchar(64);index" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
