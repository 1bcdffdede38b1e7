package gateway

import (
	"context"
	"time"
)

// 送り主/届け先
type Party struct {
	Name       string
	Phone      string
	Email      string
	Document   string
	CEP        string
	Street     string
	Number     string
	Complement string
	District   string
	City       string
	StateAbbr  string
}

// 1梱包ぶんの商品（寸法はcm、重さはkg）
type PackageItem struct {
	Name           string
	Quantity       int64
	UnitPriceCents int64
	Width          int
	Height         int
	Length         int
	WeightKg       float64
}

type QuoteRequest struct {
	FromCEP    string
	ToCEP      string
	Items      []PackageItem
	ServiceIDs []int64
}

type ServiceOption struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Company      string `json:"company"`
	PriceCents   int64  `json:"price_cents"`
	DeliveryDays int    `json:"delivery_days"`
	Error        string `json:"error,omitempty"`
}

type PurchaseRequest struct {
	OrderID   int64
	ServiceID int64
	From      Party
	To        Party
	Items     []PackageItem
}

type Label struct {
	MelhorEnvioID string
	Protocol      string
	TrackingCode  string
	LabelURL      string
	Status        string
}

type TrackingEntry struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Location string    `json:"location"`
	Date     time.Time `json:"date"`
}

type TrackingInfo struct {
	Status       string          `json:"status"`
	TrackingCode string          `json:"tracking_code"`
	Events       []TrackingEntry `json:"events"`
}

// 配送状態（正規化済み）
const (
	ShipmentStatusPaid      = "paid"
	ShipmentStatusPosted    = "posted"
	ShipmentStatusDelivered = "delivered"
	ShipmentStatusCanceled  = "canceled"
)

// ShipmentNotice は配送業者Webhookの内容
type ShipmentNotice struct {
	Event         string
	MelhorEnvioID string
	Protocol      string
	//正規化した状態（ShipmentStatus*）。対象外なら空
	Status       string
	RawStatus    string
	TrackingCode string
	Message      string
	Location     string
	Date         time.Time
}

type Carrier interface {
	Configured() bool
	Quote(ctx context.Context, req QuoteRequest) ([]ServiceOption, error)
	Purchase(ctx context.Context, req PurchaseRequest) (Label, error)
	//返品（reverse）。From/To は呼び出し側で入れ替える
	PurchaseReturn(ctx context.Context, req PurchaseRequest) (Label, error)
	Track(ctx context.Context, melhorEnvioID string) (TrackingInfo, error)
	DownloadLabel(ctx context.Context, labelURL string) ([]byte, error)
	ParseWebhook(req WebhookRequest) (ShipmentNotice, error)
}
