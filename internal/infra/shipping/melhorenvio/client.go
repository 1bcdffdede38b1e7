// Package melhorenvio は Melhor Envio API v2 のクライアント。
package melhorenvio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/gateway"

	"github.com/shopspring/decimal"
)

const providerName = "melhorenvio"

type Client struct {
	baseURL      string
	token        string
	webhookToken string
	userAgent    string
	httpClient   *http.Client
}

func NewClient(cfg config.MelhorEnvioConfig, timeout time.Duration) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		token:        cfg.Token,
		webhookToken: cfg.WebhookToken,
		userAgent:    cfg.UserAgent,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c.token != ""
}

type postalCode struct {
	PostalCode string `json:"postal_code"`
}

type quoteProduct struct {
	ID             string      `json:"id"`
	Width          int         `json:"width"`
	Height         int         `json:"height"`
	Length         int         `json:"length"`
	Weight         json.Number `json:"weight"`
	InsuranceValue json.Number `json:"insurance_value"`
	Quantity       int64       `json:"quantity"`
}

type quoteBody struct {
	From     postalCode     `json:"from"`
	To       postalCode     `json:"to"`
	Products []quoteProduct `json:"products"`
	Services string         `json:"services,omitempty"`
}

type quoteOption struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Price        json.Number `json:"price"`
	CustomPrice  json.Number `json:"custom_price"`
	DeliveryTime int         `json:"delivery_time"`
	Error        string      `json:"error"`
	Company      struct {
		Name string `json:"name"`
	} `json:"company"`
}

func brl(cents int64) json.Number {
	return json.Number(decimal.New(cents, -2).StringFixed(2))
}

func weight(kg float64) json.Number {
	return json.Number(decimal.NewFromFloat(kg).StringFixed(3))
}

// "23.50" -> 2350
func toCents(n json.Number) (int64, error) {
	if n == "" {
		return 0, errors.New("empty price")
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return 0, err
	}
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart(), nil
}

func (c *Client) Quote(ctx context.Context, req gateway.QuoteRequest) ([]gateway.ServiceOption, error) {
	if !c.Configured() {
		return nil, gateway.ErrNotConfigured
	}

	body := quoteBody{
		From: postalCode{PostalCode: onlyDigits(req.FromCEP)},
		To:   postalCode{PostalCode: onlyDigits(req.ToCEP)},
	}
	for i, it := range req.Items {
		body.Products = append(body.Products, quoteProduct{
			ID:             strconv.Itoa(i + 1),
			Width:          it.Width,
			Height:         it.Height,
			Length:         it.Length,
			Weight:         weight(it.WeightKg),
			InsuranceValue: brl(it.UnitPriceCents),
			Quantity:       it.Quantity,
		})
	}
	if len(req.ServiceIDs) > 0 {
		ids := make([]string, 0, len(req.ServiceIDs))
		for _, id := range req.ServiceIDs {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		body.Services = strings.Join(ids, ",")
	}

	var raw []quoteOption
	if err := c.do(ctx, http.MethodPost, "/api/v2/me/shipment/calculate", body, &raw); err != nil {
		return nil, err
	}

	out := make([]gateway.ServiceOption, 0, len(raw))
	for _, o := range raw {
		opt := gateway.ServiceOption{
			ID:           o.ID,
			Name:         o.Name,
			Company:      o.Company.Name,
			DeliveryDays: o.DeliveryTime,
			Error:        o.Error,
		}
		if o.Error == "" {
			price := o.CustomPrice
			if price == "" {
				price = o.Price
			}
			cents, err := toCents(price)
			if err != nil {
				opt.Error = "invalid price"
			} else {
				opt.PriceCents = cents
			}
		}
		out = append(out, opt)
	}
	return out, nil
}

type party struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Document   string `json:"document,omitempty"`
	Address    string `json:"address"`
	Complement string `json:"complement,omitempty"`
	Number     string `json:"number"`
	District   string `json:"district"`
	City       string `json:"city"`
	StateAbbr  string `json:"state_abbr"`
	CountryID  string `json:"country_id"`
	PostalCode string `json:"postal_code"`
}

func toParty(p gateway.Party) party {
	return party{
		Name:       p.Name,
		Phone:      onlyDigits(p.Phone),
		Email:      p.Email,
		Document:   onlyDigits(p.Document),
		Address:    p.Street,
		Complement: p.Complement,
		Number:     p.Number,
		District:   p.District,
		City:       p.City,
		StateAbbr:  p.StateAbbr,
		CountryID:  "BR",
		PostalCode: onlyDigits(p.CEP),
	}
}

type cartProduct struct {
	Name         string      `json:"name"`
	Quantity     int64       `json:"quantity"`
	UnitaryValue json.Number `json:"unitary_value"`
}

type volume struct {
	Height int         `json:"height"`
	Width  int         `json:"width"`
	Length int         `json:"length"`
	Weight json.Number `json:"weight"`
}

type tag struct {
	Tag string `json:"tag"`
}

type cartOptions struct {
	InsuranceValue json.Number `json:"insurance_value"`
	Receipt        bool        `json:"receipt"`
	OwnHand        bool        `json:"own_hand"`
	Reverse        bool        `json:"reverse"`
	NonCommercial  bool        `json:"non_commercial"`
	Tags           []tag       `json:"tags,omitempty"`
}

type cartBody struct {
	Service  int64         `json:"service"`
	From     party         `json:"from"`
	To       party         `json:"to"`
	Products []cartProduct `json:"products"`
	Volumes  []volume      `json:"volumes"`
	Options  cartOptions   `json:"options"`
}

type cartResponse struct {
	ID       string `json:"id"`
	Protocol string `json:"protocol"`
	Status   string `json:"status"`
}

type ordersBody struct {
	Mode   string   `json:"mode,omitempty"`
	Orders []string `json:"orders"`
}

type printResponse struct {
	URL string `json:"url"`
}

type trackingResponse struct {
	ID                  string  `json:"id"`
	Protocol            string  `json:"protocol"`
	Status              string  `json:"status"`
	Tracking            *string `json:"tracking"`
	MelhorEnvioTracking string  `json:"melhorenvio_tracking"`
	CreatedAt           *string `json:"created_at"`
	PaidAt              *string `json:"paid_at"`
	GeneratedAt         *string `json:"generated_at"`
	PostedAt            *string `json:"posted_at"`
	DeliveredAt         *string `json:"delivered_at"`
	CanceledAt          *string `json:"canceled_at"`
}

// 全商品を1箱にまとめる（高さを積み、重さを足す）
func packVolume(items []gateway.PackageItem) volume {
	var v volume
	var kg float64
	for _, it := range items {
		if it.Width > v.Width {
			v.Width = it.Width
		}
		if it.Length > v.Length {
			v.Length = it.Length
		}
		v.Height += it.Height * int(it.Quantity)
		kg += it.WeightKg * float64(it.Quantity)
	}
	v.Weight = weight(kg)
	return v
}

func (c *Client) Purchase(ctx context.Context, req gateway.PurchaseRequest) (gateway.Label, error) {
	return c.purchase(ctx, req, false)
}

func (c *Client) PurchaseReturn(ctx context.Context, req gateway.PurchaseRequest) (gateway.Label, error) {
	return c.purchase(ctx, req, true)
}

// cart -> checkout -> generate -> print -> tracking
func (c *Client) purchase(ctx context.Context, req gateway.PurchaseRequest, reverse bool) (gateway.Label, error) {
	if !c.Configured() {
		return gateway.Label{}, gateway.ErrNotConfigured
	}
	if req.ServiceID <= 0 {
		return gateway.Label{}, fmt.Errorf("melhorenvio: service id is required")
	}
	if len(req.Items) == 0 {
		return gateway.Label{}, fmt.Errorf("melhorenvio: no items")
	}

	body := cartBody{
		Service: req.ServiceID,
		From:    toParty(req.From),
		To:      toParty(req.To),
		Volumes: []volume{packVolume(req.Items)},
	}
	var insurance int64
	for _, it := range req.Items {
		body.Products = append(body.Products, cartProduct{Name: it.Name, Quantity: it.Quantity, UnitaryValue: brl(it.UnitPriceCents)})
		insurance += it.UnitPriceCents * it.Quantity
	}
	body.Options = cartOptions{
		InsuranceValue: brl(insurance),
		Reverse:        reverse,
		NonCommercial:  true,
		Tags:           []tag{{Tag: fmt.Sprintf("pedido-%d", req.OrderID)}},
	}

	var cart cartResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/me/cart", body, &cart); err != nil {
		return gateway.Label{}, err
	}
	if cart.ID == "" {
		return gateway.Label{}, fmt.Errorf("melhorenvio: cart response without id")
	}

	ids := ordersBody{Orders: []string{cart.ID}}
	if err := c.do(ctx, http.MethodPost, "/api/v2/me/shipment/checkout", ids, nil); err != nil {
		return gateway.Label{}, fmt.Errorf("checkout %s: %w", cart.ID, err)
	}
	if err := c.do(ctx, http.MethodPost, "/api/v2/me/shipment/generate", ids, nil); err != nil {
		return gateway.Label{}, fmt.Errorf("generate %s: %w", cart.ID, err)
	}

	var printed printResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/me/shipment/print", ordersBody{Mode: "public", Orders: ids.Orders}, &printed); err != nil {
		return gateway.Label{}, fmt.Errorf("print %s: %w", cart.ID, err)
	}

	label := gateway.Label{
		MelhorEnvioID: cart.ID,
		Protocol:      cart.Protocol,
		LabelURL:      printed.URL,
		Status:        cart.Status,
	}

	//追跡コードは生成直後だと空のことがある
	tr, err := c.tracking(ctx, cart.ID)
	if err == nil {
		label.TrackingCode = tr.code()
		if tr.Status != "" {
			label.Status = tr.Status
		}
	}
	return label, nil
}

func (t trackingResponse) code() string {
	if t.Tracking != nil && *t.Tracking != "" {
		return *t.Tracking
	}
	return t.MelhorEnvioTracking
}

func (c *Client) tracking(ctx context.Context, id string) (trackingResponse, error) {
	var res map[string]trackingResponse
	if err := c.do(ctx, http.MethodPost, "/api/v2/me/shipment/tracking", ordersBody{Orders: []string{id}}, &res); err != nil {
		return trackingResponse{}, err
	}
	tr, ok := res[id]
	if !ok {
		return trackingResponse{}, fmt.Errorf("melhorenvio: no tracking for %s", id)
	}
	return tr, nil
}

// Track は状態と各日時を履歴として返す（日時順）
func (c *Client) Track(ctx context.Context, melhorEnvioID string) (gateway.TrackingInfo, error) {
	if !c.Configured() {
		return gateway.TrackingInfo{}, gateway.ErrNotConfigured
	}
	tr, err := c.tracking(ctx, melhorEnvioID)
	if err != nil {
		return gateway.TrackingInfo{}, err
	}

	info := gateway.TrackingInfo{Status: tr.Status, TrackingCode: tr.code()}
	steps := []struct {
		status string
		at     *string
	}{
		{"created", tr.CreatedAt},
		{gateway.ShipmentStatusPaid, tr.PaidAt},
		{"generated", tr.GeneratedAt},
		{gateway.ShipmentStatusPosted, tr.PostedAt},
		{gateway.ShipmentStatusDelivered, tr.DeliveredAt},
		{gateway.ShipmentStatusCanceled, tr.CanceledAt},
	}
	for _, s := range steps {
		if s.at == nil || *s.at == "" {
			continue
		}
		at, err := parseTime(*s.at)
		if err != nil {
			continue
		}
		info.Events = append(info.Events, gateway.TrackingEntry{Status: s.status, Date: at})
	}
	sortEntries(info.Events)
	return info, nil
}

func (c *Client) DownloadLabel(ctx context.Context, labelURL string) ([]byte, error) {
	if labelURL == "" {
		return nil, fmt.Errorf("melhorenvio: empty label url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, labelURL, nil)
	if err != nil {
		return nil, fmt.Errorf("melhorenvio: create request: %w", err)
	}
	//自社APIのURLのときだけトークンを付ける
	if strings.HasPrefix(labelURL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("melhorenvio: download label: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("melhorenvio: read label: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &gateway.ProviderError{Provider: providerName, Op: "download label", Status: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in interface{}, out interface{}) error {
	var reader io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("melhorenvio: encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("melhorenvio: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("melhorenvio: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("melhorenvio: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perr := &gateway.ProviderError{Provider: providerName, Op: method + " " + path, Status: resp.StatusCode, Body: truncate(string(raw), 512)}
		if resp.StatusCode == http.StatusUnauthorized {
			return errors.Join(gateway.ErrInvalidCredentials, perr)
		}
		return perr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("melhorenvio: decode response: %w", err)
	}
	return nil
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
