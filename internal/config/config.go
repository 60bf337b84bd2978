package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.opentelemetry.io/otel/attribute"
	"go.yaml.in/yaml/v4"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port           int           `envconfig:"PORT" default:"8080"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`

	// Provider
	ProviderBaseURL      string        `envconfig:"PROVIDER_BASE_URL"`
	ProviderAPIKey       string        `envconfig:"PROVIDER_API_KEY"`
	ProviderAccessToken  string        `envconfig:"PROVIDER_ACCESS_TOKEN"`
	ProviderRefreshToken string        `envconfig:"PROVIDER_REFRESH_TOKEN"`
	ProviderTimeout      time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"20s"`
	ProviderUseMock      bool          `envconfig:"PROVIDER_USE_MOCK" default:"false"`

	// Webhook
	WebhookSecret          string `envconfig:"WEBHOOK_SECRET"`
	WebhookSignatureHeader string `envconfig:"WEBHOOK_SIGNATURE_HEADER" default:"X-Webhook-Signature"`

	// Sender defaults, optionally overlaid by SenderProfileFile
	SenderName        string `envconfig:"SENDER_NAME" default:"Warehouse"`
	SenderPhone       string `envconfig:"SENDER_PHONE"`
	SenderEmail       string `envconfig:"SENDER_EMAIL"`
	SenderAddress     string `envconfig:"SENDER_ADDRESS"`
	SenderCity        string `envconfig:"SENDER_CITY" default:"Riyadh"`
	SenderCountry     string `envconfig:"SENDER_COUNTRY" default:"SA"`
	SenderProfileFile string `envconfig:"SENDER_PROFILE_FILE"`

	// Packaging defaults
	DefaultItemWeightKG    float64 `envconfig:"DEFAULT_ITEM_WEIGHT_KG" default:"0.5"`
	DefaultBoxLengthCM     float64 `envconfig:"DEFAULT_BOX_LENGTH_CM" default:"30"`
	DefaultBoxWidthCM      float64 `envconfig:"DEFAULT_BOX_WIDTH_CM" default:"20"`
	DefaultBoxHeightCM     float64 `envconfig:"DEFAULT_BOX_HEIGHT_CM" default:"15"`
	DefaultDeliveryCompany string  `envconfig:"DEFAULT_DELIVERY_COMPANY"`
	DefaultPickupLocation  string  `envconfig:"DEFAULT_PICKUP_LOCATION"`

	// Storage
	StoreDriver string `envconfig:"STORE_DRIVER" default:"memory"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Redis
	RedisAddr        string        `envconfig:"REDIS_ADDR"`
	TrackingCacheTTL time.Duration `envconfig:"TRACKING_CACHE_TTL" default:"60s"`

	// Kafka
	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaShipmentTopic string   `envconfig:"KAFKA_SHIPMENT_TOPIC" default:"shipment-status"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"shipsync"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.0.1"`
}

// SenderProfile is the origin party stamped on every provider order.
type SenderProfile struct {
	Name    string `yaml:"name"`
	Phone   string `yaml:"phone"`
	Email   string `yaml:"email"`
	Address string `yaml:"address"`
	City    string `yaml:"city"`
	Country string `yaml:"country"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// Sender returns the sender profile from the environment, overlaid with
// SenderProfileFile when one is configured. Empty file fields keep the
// environment value.
func (c *Config) Sender() (SenderProfile, error) {
	profile := SenderProfile{
		Name:    c.SenderName,
		Phone:   c.SenderPhone,
		Email:   c.SenderEmail,
		Address: c.SenderAddress,
		City:    c.SenderCity,
		Country: c.SenderCountry,
	}
	if c.SenderProfileFile == "" {
		return profile, nil
	}

	data, err := os.ReadFile(c.SenderProfileFile)
	if err != nil {
		return profile, fmt.Errorf("reading sender profile: %w", err)
	}
	var file SenderProfile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return profile, fmt.Errorf("parsing sender profile: %w", err)
	}

	overlay(&profile.Name, file.Name)
	overlay(&profile.Phone, file.Phone)
	overlay(&profile.Email, file.Email)
	overlay(&profile.Address, file.Address)
	overlay(&profile.City, file.City)
	overlay(&profile.Country, file.Country)
	return profile, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.String("store.driver", c.StoreDriver),
		attribute.Bool("provider.mock", c.ProviderUseMock),
		attribute.Bool("provider.static_key", c.ProviderAPIKey != ""),
	}
}
