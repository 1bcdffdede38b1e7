package mercadopago

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"brickshop/internal/gateway"
)

type notification struct {
	Type   string `json:"type"`
	Topic  string `json:"topic"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
	//旧IPN形式
	Resource string `json:"resource"`
}

// ParseWebhook は通知から支払いIDだけを取り出す。状態は GetPayment で取り直す。
func (c *Client) ParseWebhook(req gateway.WebhookRequest) (gateway.MercadoPagoNotice, error) {
	var n notification
	body := bytes.TrimSpace(req.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &n); err != nil {
			return gateway.MercadoPagoNotice{}, fmt.Errorf("%w: %v", gateway.ErrMalformedWebhook, err)
		}
	}

	kind := firstNonEmpty(n.Type, n.Topic, req.Query.Get("type"), req.Query.Get("topic"))
	if kind == "" && strings.HasPrefix(n.Action, "payment.") {
		kind = "payment"
	}
	if kind == "" {
		return gateway.MercadoPagoNotice{}, fmt.Errorf("%w: missing type", gateway.ErrMalformedWebhook)
	}
	if kind != "payment" {
		return gateway.MercadoPagoNotice{Ignored: true, Type: kind}, nil
	}

	id := firstNonEmpty(rawID(n.Data.ID), req.Query.Get("data.id"), req.Query.Get("id"), lastSegment(n.Resource))
	if id == "" {
		return gateway.MercadoPagoNotice{}, fmt.Errorf("%w: missing payment id", gateway.ErrMalformedWebhook)
	}

	if c.webhookSecret != "" {
		if err := verifySignature(c.webhookSecret, req, id); err != nil {
			return gateway.MercadoPagoNotice{}, err
		}
	}

	return gateway.MercadoPagoNotice{PaymentID: id, Type: kind}, nil
}

// x-signature: "ts=...,v1=..." を検証する。
// manifest は "id:<data.id>;request-id:<x-request-id>;ts:<ts>;"
func verifySignature(secret string, req gateway.WebhookRequest, dataID string) error {
	header := req.Header.Get("x-signature")
	if header == "" {
		return fmt.Errorf("%w: missing x-signature", gateway.ErrInvalidSignature)
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return fmt.Errorf("%w: incomplete x-signature", gateway.ErrInvalidSignature)
	}

	manifest := SignatureManifest(dataID, req.Header.Get("x-request-id"), ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(v1))) {
		return gateway.ErrInvalidSignature
	}
	return nil
}

func SignatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	b.WriteString("id:" + strings.ToLower(dataID) + ";")
	if requestID != "" {
		b.WriteString("request-id:" + requestID + ";")
	}
	b.WriteString("ts:" + ts + ";")
	return b.String()
}

// data.id は文字列でも数値でも来る
func rawID(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	return strings.Trim(s, `"`)
}

func lastSegment(resource string) string {
	resource = strings.TrimRight(resource, "/")
	if i := strings.LastIndex(resource, "/"); i >= 0 {
		return resource[i+1:]
	}
	return resource
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
