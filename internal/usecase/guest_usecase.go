package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// GuestUsecase はログイン無しの購入と、後から本会員に注文を引き継ぐ処理。
type GuestUsecase struct {
	tx       repo.TransactionManager
	orders   *OrderUsecase
	payments *PaymentUsecase
	shipping *ShippingUsecase
	events   gateway.EventPublisher
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewGuestUsecase(tx repo.TransactionManager, orders *OrderUsecase, payments *PaymentUsecase, shipping *ShippingUsecase, events gateway.EventPublisher, log logrus.FieldLogger) *GuestUsecase {
	return &GuestUsecase{
		tx:       tx,
		orders:   orders,
		payments: payments,
		shipping: shipping,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

type GuestItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

type GuestPaymentInput struct {
	Provider     string `json:"provider"`
	Method       string `json:"method"`
	CardToken    string `json:"card_token"`
	CardBrand    string `json:"card_brand"`
	Installments int    `json:"installments"`
}

type GuestCheckoutInput struct {
	Email             string            `json:"email"`
	Name              string            `json:"name"`
	CPF               string            `json:"cpf"`
	Phone             string            `json:"phone"`
	Address           AddressRequest    `json:"address"`
	Items             []GuestItem       `json:"items"`
	CouponCode        string            `json:"coupon_code"`
	ShippingServiceID int64             `json:"shipping_service_id"`
	Payment           GuestPaymentInput `json:"payment"`
	IdempotencyKey    string            `json:"-"`
}

type GuestCheckoutOutput struct {
	Order   OrderOutput           `json:"order"`
	Payment gateway.PaymentResult `json:"payment"`
}

type LinkGuestOrdersOutput struct {
	Linked int64 `json:"linked"`
}

func validateGuestInput(in *GuestCheckoutInput) (model.Address, error) {
	in.Email = normalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	in.CPF = onlyDigits(in.CPF)

	fields := map[string]string{}
	if in.Email == "" {
		fields["email"] = "required"
	} else if !emailLike(in.Email) {
		fields["email"] = "invalid format"
	}
	if in.Name == "" {
		fields["name"] = "required"
	}
	if in.CPF != "" && len(in.CPF) != 11 {
		fields["cpf"] = "must have 11 digits"
	}
	if len(in.Items) == 0 {
		fields["items"] = "required"
	}
	for _, it := range in.Items {
		if it.ProductID <= 0 || it.Quantity < 1 {
			fields["items"] = "invalid item"
			break
		}
	}
	switch model.PaymentProvider(strings.ToLower(in.Payment.Provider)) {
	case model.PaymentProviderMercadoPago, model.PaymentProviderStripe:
	default:
		fields["payment.provider"] = "must be mercadopago or stripe"
	}
	if len(fields) > 0 {
		return model.Address{}, NewValidationError("invalid checkout", fields)
	}

	if in.Address.Phone == "" {
		in.Address.Phone = in.Phone
	}
	return addressFromRequest(in.Address)
}

func emailLike(s string) bool {
	at := strings.LastIndex(s, "@")
	return at > 0 && at < len(s)-1 && strings.Contains(s[at+1:], ".")
}

// Checkout はゲスト購入。注文と決済を1リクエストで作る（ゲストはセッションを持たない）。
func (u *GuestUsecase) Checkout(ctx context.Context, in GuestCheckoutInput) (GuestCheckoutOutput, error) {
	addr, err := validateGuestInput(&in)
	if err != nil {
		return GuestCheckoutOutput{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return GuestCheckoutOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency key")
	}

	//見積もり用の梱包は先に作る
	var pkgs []gateway.PackageItem
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		for _, it := range in.Items {
			p, err := r.Products().FindByID(ctx, it.ProductID)
			if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
				return NewHTTPError(http.StatusBadRequest, "product is not available")
			}
			if err != nil {
				return dbError(err)
			}
			pkgs = append(pkgs, packageItem(p.Name, it.Quantity, p.Price))
		}
		return nil
	})
	if err != nil {
		return GuestCheckoutOutput{}, err
	}

	choice, err := u.shipping.choose(ctx, addr.CEP, pkgs, in.ShippingServiceID)
	if err != nil {
		return GuestCheckoutOutput{}, err
	}

	var (
		order   model.Order
		items   []model.OrderItem
		guest   model.User
		created bool
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		g, err := u.resolveGuest(ctx, r, in)
		if err != nil {
			return err
		}
		guest = *g

		saved, err := upsertAddress(ctx, r, guest.ID, addr)
		if err != nil {
			return err
		}

		lines := make([]orderLine, 0, len(in.Items))
		for _, it := range in.Items {
			lines = append(lines, orderLine{ProductID: it.ProductID, Quantity: it.Quantity})
		}

		order, items, created, err = u.orders.placeOrder(ctx, r, placement{
			UserID:         guest.ID,
			AddressID:      saved.ID,
			Lines:          lines,
			CouponCode:     in.CouponCode,
			Shipping:       choice,
			IdempotencyKey: key,
		})
		return err
	})
	if err != nil {
		return GuestCheckoutOutput{}, err
	}
	if created {
		publishOrderEvent(ctx, u.events, u.log, gateway.OrderEventCreated, order)
	}

	pay, err := u.payments.start(ctx, order, guest, model.PaymentProvider(strings.ToLower(in.Payment.Provider)), CreatePaymentInput{
		Method:       in.Payment.Method,
		CardToken:    in.Payment.CardToken,
		CardBrand:    in.Payment.CardBrand,
		Installments: in.Payment.Installments,
		PayerCPF:     in.CPF,
	})
	if err != nil {
		//注文は残る（payment_pending のまま）。再送で同じ注文に決済を作り直せる
		u.log.WithError(err).WithField("order_id", order.ID).Warn("guest payment creation failed")
		return GuestCheckoutOutput{}, err
	}

	out := toOrderOutput(order, items)
	out.Status = pay.Status
	out.PaymentProvider = string(pay.Payment.Provider)
	out.PaymentMethod = pay.Payment.Method
	return GuestCheckoutOutput{Order: out, Payment: pay.Payment}, nil
}

// resolveGuest はメール、次にCPFでゲストを探す。無ければ作る。
func (u *GuestUsecase) resolveGuest(ctx context.Context, r repo.TxRepos, in GuestCheckoutInput) (*model.User, error) {
	account, err := r.Users().FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, dbError(err)
	}
	if account != nil {
		return nil, NewHTTPError(http.StatusConflict, "email already registered, please sign in")
	}

	g, err := r.Users().FindGuestByEmail(ctx, in.Email)
	if err != nil {
		return nil, dbError(err)
	}
	if g == nil && in.CPF != "" {
		if g, err = r.Users().FindGuestByCPF(ctx, in.CPF); err != nil {
			return nil, dbError(err)
		}
	}
	if g != nil {
		g.Name = in.Name
		if in.Phone != "" {
			g.Phone = in.Phone
		}
		if g.CPF == "" {
			g.CPF = in.CPF
		}
		g.UpdatedAt = u.now()
		if err := r.Users().Update(ctx, g); err != nil {
			return nil, dbError(err)
		}
		return g, nil
	}

	//ゲストはログインできない（ランダムなハッシュ）
	hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, &HTTPError{Status: http.StatusInternalServerError, Message: "failed to create guest", Err: err}
	}

	now := u.now()
	g = &model.User{
		Email:        in.Email,
		IsGuest:      true,
		PasswordHash: string(hash),
		Role:         model.RoleVisitor,
		Name:         in.Name,
		CPF:          in.CPF,
		Phone:        in.Phone,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.Users().Create(ctx, g); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, NewHTTPError(http.StatusConflict, "guest checkout in progress, retry")
		}
		return nil, dbError(err)
	}
	return g, nil
}

// 同じ配送先があればそれを使う
func upsertAddress(ctx context.Context, r repo.TxRepos, userID int64, a model.Address) (model.Address, error) {
	a.UserID = userID
	existing, found, err := r.Addresses().FindSame(ctx, userID, a)
	if err != nil {
		return model.Address{}, dbError(err)
	}
	if found {
		return existing, nil
	}
	created, err := r.Addresses().Create(ctx, a)
	if err != nil {
		return model.Address{}, dbError(err)
	}
	return created, nil
}

// LinkOrder はゲスト注文1件を、同じメールの本会員に付け替える。
func (u *GuestUsecase) LinkOrder(ctx context.Context, userID, orderID int64) (LinkGuestOrdersOutput, error) {
	if userID <= 0 {
		return LinkGuestOrdersOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return LinkGuestOrdersOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		me, err := r.Users().FindByID(ctx, userID)
		if err != nil {
			return dbError(err)
		}
		if me == nil {
			return NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}

		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return dbError(err)
		}

		owner, err := r.Users().FindByID(ctx, o.UserID)
		if err != nil {
			return dbError(err)
		}
		//ゲストの注文で、メールが一致するものだけ
		if owner == nil || !owner.IsGuest || normalizeEmail(owner.Email) != normalizeEmail(me.Email) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}

		if err := r.Orders().ReassignByID(ctx, o.ID, me.ID); err != nil {
			return dbError(err)
		}
		if o.AddressID > 0 {
			if err := r.Addresses().ReassignByID(ctx, o.AddressID, me.ID); err != nil && !errors.Is(err, repo.ErrNotFound) {
				return dbError(err)
			}
		}
		return nil
	})
	if err != nil {
		return LinkGuestOrdersOutput{}, err
	}

	u.log.WithFields(logrus.Fields{"user_id": userID, "order_id": orderID}).Info("guest order linked")
	return LinkGuestOrdersOutput{Linked: 1}, nil
}

// LinkAll は同じメールのゲスト全員の注文・住所・カートを1トランザクションで付け替える。
func (u *GuestUsecase) LinkAll(ctx context.Context, userID int64) (LinkGuestOrdersOutput, error) {
	if userID <= 0 {
		return LinkGuestOrdersOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var linked int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		me, err := r.Users().FindByID(ctx, userID)
		if err != nil {
			return dbError(err)
		}
		if me == nil {
			return NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}

		guests, err := r.Users().ListGuestsByEmail(ctx, normalizeEmail(me.Email))
		if err != nil {
			return dbError(err)
		}

		for _, g := range guests {
			if g.ID == me.ID {
				continue
			}
			n, err := r.Orders().ReassignUser(ctx, g.ID, me.ID)
			if err != nil {
				return dbError(err)
			}
			linked += n
			if _, err := r.Addresses().ReassignUser(ctx, g.ID, me.ID); err != nil {
				return dbError(err)
			}
			if _, err := r.Carts().ReassignUser(ctx, g.ID, me.ID); err != nil {
				return dbError(err)
			}
		}
		return nil
	})
	if err != nil {
		return LinkGuestOrdersOutput{}, err
	}

	u.log.WithFields(logrus.Fields{"user_id": userID, "linked": linked}).Info("guest orders linked")
	return LinkGuestOrdersOutput{Linked: linked}, nil
}
