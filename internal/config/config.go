package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Configはアプリ全体の設定
type Config struct {
	Port     string `envconfig:"PORT" default:"8080"`
	GoEnv    string `envconfig:"GO_ENV" default:"development"` // development/production
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	//DATABASE_URL があれば最優先
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PostgresDB       string `envconfig:"POSTGRES_DB" default:"brickshop"`
	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	//セッション（HMAC署名のcookie）
	JWTSecret    string        `envconfig:"JWT_SECRET" required:"true"`
	SessionTTL   time.Duration `envconfig:"SESSION_TTL" default:"168h"`
	CookieSecure bool          `envconfig:"COOKIE_SECURE" default:"true"`

	APIDomain   string `envconfig:"API_DOMAIN" default:"localhost"`
	FEURL       string `envconfig:"FE_URL" default:"http://localhost:3000"`
	FrontendDir string `envconfig:"FRONTEND_DIR"`

	//送料（見積もりが使えないときの固定額）
	ShippingFlatRateCents int64 `envconfig:"SHIPPING_FLAT_RATE_CENTS" default:"2500"`

	MercadoPago MercadoPagoConfig
	Stripe      StripeConfig
	MelhorEnvio MelhorEnvioConfig
	Mail        MailConfig
	Storage     StorageConfig
	Kafka       KafkaConfig

	HTTPClientTimeout time.Duration `envconfig:"HTTP_CLIENT_TIMEOUT" default:"15s"`
}

type MercadoPagoConfig struct {
	AccessToken     string `envconfig:"MERCADOPAGO_ACCESS_TOKEN"`
	WebhookSecret   string `envconfig:"MERCADOPAGO_WEBHOOK_SECRET"`
	NotificationURL string `envconfig:"MERCADOPAGO_NOTIFICATION_URL"`
	BaseURL         string `envconfig:"MERCADOPAGO_BASE_URL" default:"https://api.mercadopago.com"`
}

type StripeConfig struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
}

type MelhorEnvioConfig struct {
	Token            string `envconfig:"MELHORENVIO_TOKEN"`
	BaseURL          string `envconfig:"MELHORENVIO_BASE_URL" default:"https://sandbox.melhorenvio.com.br"`
	WebhookToken     string `envconfig:"MELHORENVIO_WEBHOOK_TOKEN"`
	UserAgent        string `envconfig:"MELHORENVIO_USER_AGENT" default:"brickshop (contato@brickshop.com.br)"`
	AutoPurchase     bool   `envconfig:"MELHORENVIO_AUTO_PURCHASE" default:"false"`
	DefaultServiceID int64  `envconfig:"MELHORENVIO_DEFAULT_SERVICE_ID" default:"1"`

	//差出人（ストア）
	FromName      string `envconfig:"SHOP_NAME" default:"Brickshop"`
	FromEmail     string `envconfig:"SHOP_EMAIL" default:"contato@brickshop.com.br"`
	FromPhone     string `envconfig:"SHOP_PHONE"`
	FromDocument  string `envconfig:"SHOP_DOCUMENT"`
	FromCEP       string `envconfig:"SHOP_CEP" default:"01001000"`
	FromStreet    string `envconfig:"SHOP_STREET"`
	FromNumber    string `envconfig:"SHOP_NUMBER"`
	FromDistrict  string `envconfig:"SHOP_DISTRICT"`
	FromCity      string `envconfig:"SHOP_CITY" default:"São Paulo"`
	FromStateAbbr string `envconfig:"SHOP_STATE" default:"SP"`
}

type MailConfig struct {
	SMTPHost     string `envconfig:"SMTP_HOST"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser     string `envconfig:"SMTP_USER"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`
	From         string `envconfig:"MAIL_FROM" default:"Brickshop <no-reply@brickshop.com.br>"`
}

type StorageConfig struct {
	Driver    string `envconfig:"IMAGE_STORE" default:"local"` // local/s3
	UploadDir string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	PublicURL string `envconfig:"UPLOAD_PUBLIC_URL" default:"/uploads"`
	S3Bucket  string `envconfig:"S3_BUCKET"`
	S3Region  string `envconfig:"S3_REGION" default:"sa-east-1"`
	S3Key     string `envconfig:"S3_ACCESS_KEY_ID"`
	S3Secret  string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3BaseURL string `envconfig:"S3_PUBLIC_BASE_URL"`
}

type KafkaConfig struct {
	Brokers    []string `envconfig:"KAFKA_BROKERS"`
	OrderTopic string   `envconfig:"KAFKA_ORDER_TOPIC" default:"order_events"`
}

// Loadは環境変数（.envがあれば先に読む）
func Load() (Config, error) {
	//.envは任意
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg.Port = strings.TrimPrefix(cfg.Port, ":")
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if len(cfg.JWTSecret) < 16 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	switch cfg.Storage.Driver {
	case "local", "s3":
	default:
		return Config{}, fmt.Errorf("IMAGE_STORE must be local or s3")
	}
	if cfg.Storage.Driver == "s3" && cfg.Storage.S3Bucket == "" {
		return Config{}, fmt.Errorf("S3_BUCKET is required when IMAGE_STORE=s3")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.GoEnv == "production"
}

func (c Config) Addr() string {
	return ":" + c.Port
}
