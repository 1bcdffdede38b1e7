package usecase

import (
	"context"
	"errors"
	"net/http"
	"time"

	"brickshop/internal/config"
	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"

	"github.com/sirupsen/logrus"
)

// 1点あたりの固定梱包サイズ（cm / kg）
const (
	packageLengthCm = 16
	packageWidthCm  = 11
	packageHeightCm = 5
	packageWeightKg = 0.3
)

type ShippingUsecase struct {
	tx      repo.TransactionManager
	carrier gateway.Carrier
	cfg     config.Config
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewShippingUsecase(tx repo.TransactionManager, carrier gateway.Carrier, cfg config.Config, log logrus.FieldLogger) *ShippingUsecase {
	return &ShippingUsecase{tx: tx, carrier: carrier, cfg: cfg, log: log, now: time.Now}
}

type QuoteItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type QuoteInput struct {
	CEP   string      `json:"cep"`
	Items []QuoteItem `json:"items"`
}

// 注文に載せる送料
type shippingChoice struct {
	ServiceID    int64
	ServiceName  string
	PriceCents   int64
	DeliveryDays int
}

type TrackingOutput struct {
	OrderID      int64                 `json:"order_id"`
	Status       string                `json:"status"`
	TrackingCode string                `json:"tracking_code"`
	Shipment     *model.Shipment       `json:"shipment,omitempty"`
	Events       []model.TrackingEvent `json:"events"`
}

func (u *ShippingUsecase) carrierReady() bool {
	return u.carrier != nil && u.carrier.Configured()
}

func (u *ShippingUsecase) flatRate() gateway.ServiceOption {
	return gateway.ServiceOption{ID: 0, Name: "Frete fixo", PriceCents: u.cfg.ShippingFlatRateCents}
}

// Quote はチェックアウト画面の送料見積もり
func (u *ShippingUsecase) Quote(ctx context.Context, in QuoteInput) ([]gateway.ServiceOption, error) {
	cep := onlyDigits(in.CEP)
	if len(cep) != 8 {
		return nil, NewValidationError("invalid cep", map[string]string{"cep": "must have 8 digits"})
	}
	if len(in.Items) == 0 {
		return nil, NewHTTPError(http.StatusBadRequest, "items required")
	}

	if !u.carrierReady() {
		return []gateway.ServiceOption{u.flatRate()}, nil
	}

	var pkgs []gateway.PackageItem
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		for _, it := range in.Items {
			if it.Quantity < 1 {
				return NewHTTPError(http.StatusBadRequest, "invalid quantity")
			}
			p, err := r.Products().FindByID(ctx, it.ProductID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
				return NewHTTPError(http.StatusNotFound, "product not found")
			}
			if err != nil {
				return dbError(err)
			}
			pkgs = append(pkgs, packageItem(p.Name, it.Quantity, p.Price))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	opts, err := u.carrier.Quote(ctx, gateway.QuoteRequest{
		FromCEP: u.cfg.MelhorEnvio.FromCEP,
		ToCEP:   cep,
		Items:   pkgs,
	})
	if err != nil {
		u.log.WithError(err).WithField("cep", cep).Warn("shipping quote failed")
		return nil, providerError("shipping quote failed", err)
	}

	//エラー付きのサービスは返さない
	out := make([]gateway.ServiceOption, 0, len(opts))
	for _, o := range opts {
		if o.Error == "" {
			out = append(out, o)
		}
	}
	return out, nil
}

// choose は注文時の送料を確定する。配送業者が未設定なら固定額。
func (u *ShippingUsecase) choose(ctx context.Context, toCEP string, pkgs []gateway.PackageItem, serviceID int64) (shippingChoice, error) {
	if !u.carrierReady() {
		flat := u.flatRate()
		return shippingChoice{ServiceID: serviceID, ServiceName: flat.Name, PriceCents: flat.PriceCents}, nil
	}

	if serviceID <= 0 {
		serviceID = u.cfg.MelhorEnvio.DefaultServiceID
	}

	opts, err := u.carrier.Quote(ctx, gateway.QuoteRequest{
		FromCEP:    u.cfg.MelhorEnvio.FromCEP,
		ToCEP:      onlyDigits(toCEP),
		Items:      pkgs,
		ServiceIDs: []int64{serviceID},
	})
	if err != nil {
		u.log.WithError(err).WithField("service_id", serviceID).Warn("shipping quote failed")
		return shippingChoice{}, providerError("shipping quote failed", err)
	}

	for _, o := range opts {
		if o.ID == serviceID && o.Error == "" {
			return shippingChoice{
				ServiceID:    o.ID,
				ServiceName:  o.Name,
				PriceCents:   o.PriceCents,
				DeliveryDays: o.DeliveryDays,
			}, nil
		}
	}
	return shippingChoice{}, NewHTTPError(http.StatusBadRequest, "shipping service unavailable for this address")
}

// PurchaseLabel は管理者の手動ラベル購入
func (u *ShippingUsecase) PurchaseLabel(ctx context.Context, adminUserID int64, orderID int64) (model.Shipment, error) {
	if adminUserID <= 0 {
		return model.Shipment{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return model.Shipment{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return u.purchase(ctx, adminUserID, orderID)
}

// AutoPurchase は決済承認後に呼ばれる（システム操作なので actor は 0）
func (u *ShippingUsecase) AutoPurchase(ctx context.Context, orderID int64) (model.Shipment, error) {
	return u.purchase(ctx, 0, orderID)
}

func (u *ShippingUsecase) purchase(ctx context.Context, actorID int64, orderID int64) (model.Shipment, error) {
	if !u.carrierReady() {
		return model.Shipment{}, NewHTTPError(http.StatusServiceUnavailable, "shipping provider not configured")
	}

	sc, err := u.loadShippingContext(ctx, orderID)
	if err != nil {
		return model.Shipment{}, err
	}
	if sc.Order.Status != model.OrderStatusProcessing {
		return model.Shipment{}, NewHTTPError(http.StatusConflict, "order is not ready to ship")
	}
	if sc.Outbound != nil && sc.Outbound.MelhorEnvioID != "" {
		return model.Shipment{}, NewHTTPError(http.StatusConflict, "label already purchased")
	}

	serviceID := sc.Order.ShippingServiceID
	if serviceID <= 0 {
		serviceID = u.cfg.MelhorEnvio.DefaultServiceID
	}

	label, err := u.carrier.Purchase(ctx, gateway.PurchaseRequest{
		OrderID:   sc.Order.ID,
		ServiceID: serviceID,
		From:      u.storeParty(),
		To:        customerParty(sc.Address, sc.User),
		Items:     packageItemsFor(sc.Items),
	})
	if err != nil {
		u.log.WithError(err).WithField("order_id", orderID).Error("label purchase failed")
		return model.Shipment{}, providerError("label purchase failed", err)
	}

	var out model.Shipment
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if err != nil {
			return dbError(err)
		}
		//購入中に状態が変わっていないか
		if o.Status != model.OrderStatusProcessing {
			return NewHTTPError(http.StatusConflict, "order is not ready to ship")
		}

		s, err := r.Shipments().FindByOrderID(ctx, orderID, model.ShipmentKindOutbound)
		isNew := errors.Is(err, repo.ErrNotFound)
		if err != nil && !isNew {
			return dbError(err)
		}
		if s.MelhorEnvioID != "" {
			return NewHTTPError(http.StatusConflict, "label already purchased")
		}
		before := toJSON(s)

		now := u.now()
		s.OrderID = orderID
		s.Kind = model.ShipmentKindOutbound
		applyLabel(&s, label, now)
		s.ServiceID = serviceID
		s.ServiceName = o.ShippingService

		if isNew {
			err = r.Shipments().Create(ctx, &s)
		} else {
			err = r.Shipments().Save(ctx, &s)
		}
		if err != nil {
			return dbError(err)
		}

		o.MelhorEnvioOrderID = label.MelhorEnvioID
		if label.TrackingCode != "" {
			o.ShippingTrackingCode = label.TrackingCode
		}
		if err := r.Orders().Save(ctx, &o); err != nil {
			return dbError(err)
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorID,
			Action:       model.AuditActionPurchaseShipment,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   orderID,
			BeforeJSON:   before,
			AfterJSON:    toJSON(s),
			CreatedAt:    now,
		}); err != nil {
			return dbError(err)
		}
		out = s
		return nil
	})
	if err != nil {
		u.discardLabel(orderID, model.ShipmentKindOutbound, label, err)
		return model.Shipment{}, err
	}

	u.log.WithFields(logrus.Fields{"order_id": orderID, "melhor_envio_id": label.MelhorEnvioID}).Info("shipping label purchased")
	return out, nil
}

// 購入済みなのに記録できなかったラベル。Melhor Envio 側での取消が必要
func (u *ShippingUsecase) discardLabel(orderID int64, kind model.ShipmentKind, label gateway.Label, err error) {
	u.log.WithError(err).WithFields(logrus.Fields{
		"order_id":        orderID,
		"kind":            kind,
		"melhor_envio_id": label.MelhorEnvioID,
	}).Error("orphaned shipping label")
}

// Tracking は注文者向けの追跡情報。追跡コードが未確定なら配送業者に問い合わせて埋める。
func (u *ShippingUsecase) Tracking(ctx context.Context, userID int64, orderID int64) (TrackingOutput, error) {
	if userID <= 0 {
		return TrackingOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return TrackingOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var (
		out TrackingOutput
		s   *model.Shipment
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}
		//他人の注文は「存在しない扱い」
		if o.UserID != userID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		out = TrackingOutput{
			OrderID:      o.ID,
			Status:       string(o.Status),
			TrackingCode: o.ShippingTrackingCode,
			Events:       []model.TrackingEvent{},
		}

		sh, err := r.Shipments().FindByOrderID(ctx, orderID, model.ShipmentKindOutbound)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return dbError(err)
		}
		s = &sh

		events, err := r.Shipments().ListEvents(ctx, sh.ID)
		if err != nil {
			return dbError(err)
		}
		out.Events = events
		return nil
	})
	if err != nil {
		return TrackingOutput{}, err
	}

	if s != nil && s.TrackingCode == "" && s.MelhorEnvioID != "" && u.carrierReady() {
		u.fillTrackingCode(ctx, s)
		if s.TrackingCode != "" {
			out.TrackingCode = s.TrackingCode
		}
	}
	out.Shipment = s
	return out, nil
}

// 失敗してもログだけ（次回の参照でまた試す）
func (u *ShippingUsecase) fillTrackingCode(ctx context.Context, s *model.Shipment) {
	info, err := u.carrier.Track(ctx, s.MelhorEnvioID)
	if err != nil {
		u.log.WithError(err).WithField("melhor_envio_id", s.MelhorEnvioID).Debug("tracking lookup failed")
		return
	}
	if info.TrackingCode == "" {
		return
	}

	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		s.TrackingCode = info.TrackingCode
		if err := r.Shipments().Save(ctx, s); err != nil {
			return err
		}
		o, err := r.Orders().FindByIDForUpdate(ctx, s.OrderID)
		if err != nil {
			return err
		}
		if s.Kind == model.ShipmentKindOutbound {
			o.ShippingTrackingCode = info.TrackingCode
			return r.Orders().Save(ctx, &o)
		}
		return nil
	})
	if err != nil {
		u.log.WithError(err).WithField("order_id", s.OrderID).Warn("save tracking code failed")
	}
}

type shippingContext struct {
	Order    model.Order
	Items    []model.OrderItem
	Address  model.Address
	User     model.User
	Outbound *model.Shipment
}

func (u *ShippingUsecase) loadShippingContext(ctx context.Context, orderID int64) (shippingContext, error) {
	var sc shippingContext
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}
		sc.Order = o

		if sc.Items, err = r.OrderItems().ListByOrderID(ctx, orderID); err != nil {
			return dbError(err)
		}
		if sc.Address, err = r.Addresses().FindByID(ctx, o.AddressID); err != nil {
			return dbError(err)
		}
		user, err := r.Users().FindByID(ctx, o.UserID)
		if err != nil {
			return dbError(err)
		}
		if user != nil {
			sc.User = *user
		}

		s, err := r.Shipments().FindByOrderID(ctx, orderID, model.ShipmentKindOutbound)
		if err == nil {
			sc.Outbound = &s
		} else if !errors.Is(err, repo.ErrNotFound) {
			return dbError(err)
		}
		return nil
	})
	return sc, err
}

func (u *ShippingUsecase) storeParty() gateway.Party {
	me := u.cfg.MelhorEnvio
	return gateway.Party{
		Name:      me.FromName,
		Phone:     me.FromPhone,
		Email:     me.FromEmail,
		Document:  me.FromDocument,
		CEP:       me.FromCEP,
		Street:    me.FromStreet,
		Number:    me.FromNumber,
		District:  me.FromDistrict,
		City:      me.FromCity,
		StateAbbr: me.FromStateAbbr,
	}
}

func customerParty(a model.Address, user model.User) gateway.Party {
	phone := a.Phone
	if phone == "" {
		phone = user.Phone
	}
	return gateway.Party{
		Name:       a.RecipientName,
		Phone:      phone,
		Email:      user.Email,
		Document:   user.CPF,
		CEP:        onlyDigits(a.CEP),
		Street:     a.Street,
		Number:     a.Number,
		Complement: a.Complement,
		District:   a.Neighborhood,
		City:       a.City,
		StateAbbr:  a.State,
	}
}

func packageItem(name string, qty int64, unitPrice int64) gateway.PackageItem {
	return gateway.PackageItem{
		Name:           name,
		Quantity:       qty,
		UnitPriceCents: unitPrice,
		Width:          packageWidthCm,
		Height:         packageHeightCm,
		Length:         packageLengthCm,
		WeightKg:       packageWeightKg,
	}
}

func packageItemsFor(items []model.OrderItem) []gateway.PackageItem {
	out := make([]gateway.PackageItem, 0, len(items))
	for _, it := range items {
		out = append(out, packageItem(it.ProductNameSnapshot, it.Quantity, it.UnitPriceSnapshot))
	}
	return out
}

// ラベル購入の結果を反映（購入済み = paid）
func applyLabel(s *model.Shipment, label gateway.Label, now time.Time) {
	s.MelhorEnvioID = label.MelhorEnvioID
	s.Protocol = label.Protocol
	s.TrackingCode = label.TrackingCode
	s.LabelURL = label.LabelURL
	s.Status = label.Status
	s.Carrier = "melhorenvio"
	if !s.Paid {
		s.Paid = true
		s.PaidAt = &now
	}
}
