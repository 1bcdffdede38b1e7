package melhorenvio

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"brickshop/internal/gateway"
)

type webhookBody struct {
	Event string `json:"event"`
	Data  struct {
		ID          string  `json:"id"`
		Protocol    string  `json:"protocol"`
		Status      string  `json:"status"`
		Tracking    *string `json:"tracking"`
		TrackingURL string  `json:"tracking_url"`
		Message     string  `json:"message"`
		Location    string  `json:"location"`
		PaidAt      *string `json:"paid_at"`
		PostedAt    *string `json:"posted_at"`
		DeliveredAt *string `json:"delivered_at"`
		CanceledAt  *string `json:"canceled_at"`
		UpdatedAt   *string `json:"updated_at"`
	} `json:"data"`
}

// ParseWebhook はトークンを確認してから本文を読む。
func (c *Client) ParseWebhook(req gateway.WebhookRequest) (gateway.ShipmentNotice, error) {
	if err := c.checkToken(req); err != nil {
		return gateway.ShipmentNotice{}, err
	}

	var b webhookBody
	if err := json.Unmarshal(bytes.TrimSpace(req.Body), &b); err != nil {
		return gateway.ShipmentNotice{}, fmt.Errorf("%w: %v", gateway.ErrMalformedWebhook, err)
	}
	if b.Event == "" {
		return gateway.ShipmentNotice{}, fmt.Errorf("%w: missing event", gateway.ErrMalformedWebhook)
	}
	if b.Data.ID == "" {
		return gateway.ShipmentNotice{}, fmt.Errorf("%w: missing data.id", gateway.ErrMalformedWebhook)
	}

	raw := b.Data.Status
	if raw == "" {
		raw = strings.TrimPrefix(b.Event, "order.")
	}
	status := NormalizeStatus(strings.TrimPrefix(b.Event, "order."))
	if status == "" {
		status = NormalizeStatus(raw)
	}

	n := gateway.ShipmentNotice{
		Event:         b.Event,
		MelhorEnvioID: b.Data.ID,
		Protocol:      b.Data.Protocol,
		Status:        status,
		RawStatus:     raw,
		Message:       b.Data.Message,
		Location:      b.Data.Location,
	}
	if b.Data.Tracking != nil {
		n.TrackingCode = *b.Data.Tracking
	}

	//状態に対応する日時を優先
	var at *string
	switch status {
	case gateway.ShipmentStatusPaid:
		at = b.Data.PaidAt
	case gateway.ShipmentStatusPosted:
		at = b.Data.PostedAt
	case gateway.ShipmentStatusDelivered:
		at = b.Data.DeliveredAt
	case gateway.ShipmentStatusCanceled:
		at = b.Data.CanceledAt
	}
	if at == nil {
		at = b.Data.UpdatedAt
	}
	if at != nil {
		if t, err := parseTime(*at); err == nil {
			n.Date = t
		}
	}
	if n.Date.IsZero() {
		n.Date = time.Now()
	}
	return n, nil
}

func (c *Client) checkToken(req gateway.WebhookRequest) error {
	if c.webhookToken == "" {
		return fmt.Errorf("%w: webhook token not configured", gateway.ErrInvalidSignature)
	}
	got := req.Header.Get("x-webhook-token")
	if got == "" {
		got = req.Query.Get("token")
	}
	if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(c.webhookToken)) != 1 {
		return gateway.ErrInvalidSignature
	}
	return nil
}

// NormalizeStatus は ME の状態/イベント名を共通の配送状態へ。対象外は空。
func NormalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "released", "paid":
		return gateway.ShipmentStatusPaid
	case "posted":
		return gateway.ShipmentStatusPosted
	case "delivered":
		return gateway.ShipmentStatusDelivered
	case "canceled", "cancelled":
		return gateway.ShipmentStatusCanceled
	default:
		return ""
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000000Z",
}

func parseTime(s string) (time.Time, error) {
	for _, l := range timeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("melhorenvio: unknown time format %q", s)
}

func sortEntries(es []gateway.TrackingEntry) {
	sort.SliceStable(es, func(i, j int) bool { return es[i].Date.Before(es[j].Date) })
}
