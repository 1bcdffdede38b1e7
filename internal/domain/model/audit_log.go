package model

import "time"

type AuditAction string

const (
	AuditActionUpdateStock       AuditAction = "UPDATE_STOCK"
	AuditActionUpdateOrderStatus AuditAction = "UPDATE_ORDER_STATUS"
	AuditActionApproveReturn     AuditAction = "APPROVE_RETURN"
	AuditActionRejectReturn      AuditAction = "REJECT_RETURN"
	AuditActionReturnLabel       AuditAction = "GENERATE_RETURN_LABEL"
	AuditActionPurchaseShipment  AuditAction = "PURCHASE_SHIPMENT"
	AuditActionStockShortfall    AuditAction = "STOCK_SHORTFALL"
	AuditActionCreateCoupon      AuditAction = "CREATE_COUPON"
	AuditActionUpdateCoupon      AuditAction = "UPDATE_COUPON"
	AuditActionDeleteCoupon      AuditAction = "DELETE_COUPON"
)

// 何に対する操作か
type AuditResourceType string

const (
	AuditResourceProduct AuditResourceType = "product"
	AuditResourceOrder   AuditResourceType = "order"
	AuditResourceUser    AuditResourceType = "user"
	AuditResourceCoupon  AuditResourceType = "coupon"
)

// 監査ログ。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
// システム（Webhook）起点の操作は ActorUserID = 0。
type AuditLog struct {
	ID           int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorUserID  int64             `gorm:"not null;index" json:"actor_user_id"`
	Action       AuditAction       `gorm:"type:varchar(50);not null;index" json:"action"`
	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`
	ResourceID   int64             `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`
	AfterJSON  string `gorm:"type:text" json:"after_json"`

	CreatedAt time.Time `gorm:"not null;index;autoCreateTime" json:"created_at"`
}
