package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"brickshop/internal/config"
	"brickshop/internal/gateway"
	"brickshop/internal/handler"
	"brickshop/internal/infra/cep"
	"brickshop/internal/infra/db"
	"brickshop/internal/infra/events"
	"brickshop/internal/infra/mailer"
	"brickshop/internal/infra/payment/mercadopago"
	"brickshop/internal/infra/payment/stripe"
	infraRepo "brickshop/internal/infra/repository"
	"brickshop/internal/infra/shipping/melhorenvio"
	"brickshop/internal/infra/storage"
	"brickshop/internal/logger"
	"brickshop/internal/server"
	"brickshop/internal/usecase"
	"brickshop/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info", false).WithError(err).Fatal("config")
	}

	log := logger.New(cfg.LogLevel, cfg.IsProduction())
	handler.HideInternalErrors(cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//DB接続
	gdb, err := db.Connect(cfg)
	if err != nil {
		log.WithError(err).Fatal("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.WithError(err).Fatal("db migrate")
	}

	//Repository（GORM実装）
	tx := infraRepo.NewTxManagerGorm(gdb)
	userRepo := infraRepo.NewUserGormRepository(gdb)
	addressRepo := infraRepo.NewAddressGormRepository(gdb)
	productRepo := infraRepo.NewProductGormRepository(gdb)
	cartRepo := infraRepo.NewCartGormRepository(gdb)
	couponRepo := infraRepo.NewCouponGormRepository(gdb)
	auditRepo := infraRepo.NewAuditLogGormRepository(gdb)

	//外部サービス
	mp := mercadopago.NewClient(cfg.MercadoPago, cfg.HTTPClientTimeout)
	st := stripe.NewClient(cfg.Stripe)
	carrier := melhorenvio.NewClient(cfg.MelhorEnvio, cfg.HTTPClientTimeout)
	cepLookup := cep.NewLookup(cep.DefaultViaCEPURL, cep.DefaultBrasilAPIURL, cfg.HTTPClientTimeout, log)
	notifier := mailer.NewNotifier(mailer.New(cfg.Mail, log))

	publisher := events.New(cfg.Kafka)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("close publisher")
		}
	}()

	var images gateway.ImageStore
	var uploadDir, uploadURL string
	switch cfg.Storage.Driver {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			log.WithError(err).Fatal("s3 store")
		}
		images = s3Store
	default:
		images = storage.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.PublicURL)
		uploadDir, uploadURL = cfg.Storage.UploadDir, cfg.Storage.PublicURL
	}

	//Usecase
	authUC := usecase.NewAuthUsecase(cfg, userRepo, validator.NewAuthValidator(userRepo), notifier, log)
	productUC := usecase.NewProductUsecase(tx, productRepo, images)
	cartUC := usecase.NewCartUsecase(cartRepo, cartRepo, productRepo)
	addressUC := usecase.NewAddressUsecase(addressRepo, cepLookup)
	couponUC := usecase.NewCouponUsecase(tx, couponRepo)
	shippingUC := usecase.NewShippingUsecase(tx, carrier, cfg, log)
	orderUC := usecase.NewOrderUsecase(tx, shippingUC, publisher, log)
	reconciler := usecase.NewReconciler(usecase.ReconcilerDeps{
		Tx:           tx,
		MercadoPago:  mp,
		Stripe:       st,
		Carrier:      carrier,
		Shipping:     shippingUC,
		Notifier:     notifier,
		Events:       publisher,
		Log:          log,
		AutoPurchase: cfg.MelhorEnvio.AutoPurchase,
	})
	paymentUC := usecase.NewPaymentUsecase(tx, mp, st, reconciler, log)
	returnsUC := usecase.NewReturnsUsecase(tx, shippingUC, notifier, log)
	guestUC := usecase.NewGuestUsecase(tx, orderUC, paymentUC, shippingUC, publisher, log)
	adminOrderUC := usecase.NewAdminOrderUsecase(tx, publisher, log)
	auditUC := usecase.NewAuditLogUsecase(auditRepo)

	//Handler
	srv := server.New(cfg, log, server.Handlers{
		Users:        userRepo,
		Auth:         handler.NewAuthHandler(cfg, authUC),
		Products:     handler.NewProductHandler(productUC),
		AdminProduct: handler.NewAdminProductHandler(productUC),
		Cart:         handler.NewCartHandler(cartUC),
		Address:      handler.NewAddressHandler(addressUC),
		Coupon:       handler.NewCouponHandler(couponUC),
		Shipping:     handler.NewShippingHandler(shippingUC),
		Orders:       handler.NewOrderHandler(orderUC, paymentUC, returnsUC),
		Guest:        handler.NewGuestHandler(guestUC),
		Webhooks:     handler.NewWebhookHandler(reconciler),
		AdminOrders:  handler.NewAdminOrderHandler(adminOrderUC, returnsUC, auditUC),
		AdminUsers:   handler.NewAdminUserHandler(authUC),
		UploadDir:    uploadDir,
		UploadURL:    uploadURL,
	})

	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Error("server stopped")
	}
}
