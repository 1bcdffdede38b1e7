package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"brickshop/internal/domain/model"
	"brickshop/internal/gateway"
	repo "brickshop/internal/repository"

	"github.com/sirupsen/logrus"
)

type PaymentUsecase struct {
	tx         repo.TransactionManager
	mp         gateway.MercadoPago
	stripe     gateway.Stripe
	reconciler *Reconciler
	log        logrus.FieldLogger
}

func NewPaymentUsecase(tx repo.TransactionManager, mp gateway.MercadoPago, stripe gateway.Stripe, reconciler *Reconciler, log logrus.FieldLogger) *PaymentUsecase {
	return &PaymentUsecase{tx: tx, mp: mp, stripe: stripe, reconciler: reconciler, log: log}
}

type CreatePaymentInput struct {
	Method       string `json:"method"`
	CardToken    string `json:"card_token"`
	CardBrand    string `json:"card_brand"`
	Installments int    `json:"installments"`
	//ユーザーにCPFが無いとき（boleto）
	PayerCPF string `json:"payer_cpf"`
}

type PaymentOutput struct {
	OrderID int64                 `json:"order_id"`
	Status  string                `json:"status"`
	Payment gateway.PaymentResult `json:"payment"`
}

func (u *PaymentUsecase) CreateMercadoPagoPayment(ctx context.Context, userID, orderID int64, in CreatePaymentInput) (PaymentOutput, error) {
	return u.createForOwner(ctx, userID, orderID, model.PaymentProviderMercadoPago, in)
}

func (u *PaymentUsecase) CreateStripePayment(ctx context.Context, userID, orderID int64, in CreatePaymentInput) (PaymentOutput, error) {
	return u.createForOwner(ctx, userID, orderID, model.PaymentProviderStripe, in)
}

func (u *PaymentUsecase) createForOwner(ctx context.Context, userID, orderID int64, provider model.PaymentProvider, in CreatePaymentInput) (PaymentOutput, error) {
	if userID <= 0 {
		return PaymentOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return PaymentOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var (
		order model.Order
		payer model.User
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}
		user, err := r.Users().FindByID(ctx, userID)
		if err != nil {
			return dbError(err)
		}
		if user == nil {
			return NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		order, payer = o, *user
		return nil
	})
	if err != nil {
		return PaymentOutput{}, err
	}

	return u.start(ctx, order, payer, provider, in)
}

func validatePaymentMethod(provider model.PaymentProvider, method string) error {
	switch provider {
	case model.PaymentProviderMercadoPago:
		switch method {
		case gateway.MethodPix, gateway.MethodBoleto, gateway.MethodCreditCard:
			return nil
		}
	case model.PaymentProviderStripe:
		switch method {
		case gateway.MethodCreditCard, gateway.MethodBoleto:
			return nil
		}
	default:
		return NewValidationError("invalid payment", map[string]string{"provider": "must be mercadopago or stripe"})
	}
	return NewValidationError("invalid payment", map[string]string{"method": fmt.Sprintf("not supported by %s", provider)})
}

// start はプロバイダに決済を作り、結果を注文に保存する（ゲストチェックアウトと共通）。
// 即時に確定した結果（カードの承認など）は Reconciler に回す。
func (u *PaymentUsecase) start(ctx context.Context, order model.Order, payer model.User, provider model.PaymentProvider, in CreatePaymentInput) (PaymentOutput, error) {
	method := strings.ToLower(strings.TrimSpace(in.Method))
	if err := validatePaymentMethod(provider, method); err != nil {
		return PaymentOutput{}, err
	}
	if provider == model.PaymentProviderMercadoPago && method == gateway.MethodCreditCard && strings.TrimSpace(in.CardToken) == "" {
		return PaymentOutput{}, NewValidationError("invalid payment", map[string]string{"card_token": "required"})
	}

	switch order.Status {
	case model.OrderStatusPaymentPending, model.OrderStatusPaymentIncomplete:
	default:
		return PaymentOutput{}, NewHTTPError(http.StatusConflict, "order is not awaiting payment")
	}

	cpf := onlyDigits(payer.CPF)
	if cpf == "" {
		cpf = onlyDigits(in.PayerCPF)
	}
	req := gateway.CreatePaymentRequest{
		OrderID:     order.ID,
		AmountCents: order.Total,
		Method:      method,
		Description: fmt.Sprintf("Pedido #%d", order.ID),
		Payer: gateway.Payer{
			Email: payer.Email,
			Name:  payer.Name,
			CPF:   cpf,
		},
		CardToken:    strings.TrimSpace(in.CardToken),
		CardBrand:    in.CardBrand,
		Installments: in.Installments,
		//同じ注文・同じ方法の再送はプロバイダ側でもまとめる
		IdempotencyKey: fmt.Sprintf("order-%d-%s-%s", order.ID, method, order.PaymentStatus),
	}

	var (
		res gateway.PaymentResult
		err error
	)
	switch provider {
	case model.PaymentProviderMercadoPago:
		if u.mp == nil || !u.mp.Configured() {
			return PaymentOutput{}, NewHTTPError(http.StatusServiceUnavailable, "payment provider not configured")
		}
		res, err = u.mp.CreatePayment(ctx, req)
	case model.PaymentProviderStripe:
		if u.stripe == nil || !u.stripe.Configured() {
			return PaymentOutput{}, NewHTTPError(http.StatusServiceUnavailable, "payment provider not configured")
		}
		res, err = u.stripe.CreatePaymentIntent(ctx, req)
	}
	if err != nil {
		log := u.log.WithError(err).WithFields(logrus.Fields{"order_id": order.ID, "provider": provider})
		if errors.Is(err, gateway.ErrInvalidCredentials) {
			log.Error("payment provider rejected credentials")
			return PaymentOutput{}, providerError("payment provider rejected credentials", err)
		}
		log.Warn("create payment failed")
		return PaymentOutput{}, providerError("payment provider error", err)
	}

	var saved model.Order
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, order.ID)
		if err != nil {
			return dbError(err)
		}
		o.PaymentProvider = provider
		o.PaymentID = res.PaymentID
		o.PaymentMethod = method
		//承認済みをWebhookが先に書いていたら戻さない
		if o.PaymentStatus != model.PaymentStatusApproved {
			o.PaymentStatus = model.PaymentStatusPending
		}
		if err := r.Orders().Save(ctx, &o); err != nil {
			return dbError(err)
		}
		saved = o
		return nil
	})
	if err != nil {
		return PaymentOutput{}, err
	}

	u.log.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"provider":   provider,
		"payment_id": res.PaymentID,
		"status":     res.Status,
	}).Info("payment created")

	status := saved.Status
	if res.Status != "" && res.Status != model.PaymentStatusPending && u.reconciler != nil {
		rr, err := u.reconciler.ApplyPaymentUpdate(ctx, gateway.PaymentUpdate{
			Provider:  provider,
			PaymentID: res.PaymentID,
			OrderID:   order.ID,
			Status:    res.Status,
			RawStatus: res.RawStatus,
			Method:    method,
		})
		if err != nil {
			//Webhookで追いつくのでここでは失敗にしない
			u.log.WithError(err).WithField("order_id", order.ID).Warn("apply immediate payment result failed")
		} else if rr.Status != "" {
			status = rr.Status
		}
	}

	return PaymentOutput{OrderID: order.ID, Status: string(status), Payment: res}, nil
}
