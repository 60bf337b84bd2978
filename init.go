package main

import (
	"context"
	"fmt"

	"github.com/tournevent/shipsync/internal/broker/kafka"
	"github.com/tournevent/shipsync/internal/cache/rediscache"
	"github.com/tournevent/shipsync/internal/config"
	"github.com/tournevent/shipsync/internal/shipment"
	"github.com/tournevent/shipsync/internal/store"
	"github.com/tournevent/shipsync/internal/store/memstore"
	"github.com/tournevent/shipsync/internal/store/pgstore"
	"github.com/tournevent/shipsync/internal/telemetry"
	"github.com/tournevent/shipsync/internal/tracking"
	"github.com/tournevent/shipsync/pkg/shipper"
	"github.com/tournevent/shipsync/pkg/shipper/provider"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

// initTracer returns the global no-op tracer when tracing is disabled.
func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return otel.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version, cfg.Attributes()...)
}

func initDefaults(cfg *config.Config) (shipment.Defaults, error) {
	sender, err := cfg.Sender()
	if err != nil {
		return shipment.Defaults{}, err
	}
	return shipment.Defaults{
		Sender: shipper.Party{
			Name:  sender.Name,
			Phone: sender.Phone,
			Email: sender.Email,
			Address: shipper.Address{
				Line1:   sender.Address,
				City:    sender.City,
				Country: sender.Country,
			},
		},
		ItemWeightKG:    cfg.DefaultItemWeightKG,
		BoxLengthCM:     cfg.DefaultBoxLengthCM,
		BoxWidthCM:      cfg.DefaultBoxWidthCM,
		BoxHeightCM:     cfg.DefaultBoxHeightCM,
		DeliveryCompany: cfg.DefaultDeliveryCompany,
		PickupLocation:  cfg.DefaultPickupLocation,
	}, nil
}

func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "memory", "":
		return memstore.New(), nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
		return pgstore.New(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func initProvider(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) provider.APIClient {
	return provider.New(provider.Config{
		BaseURL:      cfg.ProviderBaseURL,
		APIKey:       cfg.ProviderAPIKey,
		AccessToken:  cfg.ProviderAccessToken,
		RefreshToken: cfg.ProviderRefreshToken,
		Timeout:      cfg.ProviderTimeout,
		UseMock:      cfg.ProviderUseMock,
	}, logger, tracer, metrics)
}

// optionalDeps are the infrastructure pieces enabled by configuration.
// Unset fields stay nil interfaces.
type optionalDeps struct {
	cache     shipment.Cache
	publisher tracking.Publisher

	redis    *rediscache.RedisCache
	producer *kafka.Producer
}

func initOptional(cfg *config.Config, logger *otelzap.Logger) (*optionalDeps, error) {
	deps := &optionalDeps{}

	if cfg.RedisAddr != "" {
		deps.redis = rediscache.New(cfg.RedisAddr)
		deps.cache = deps.redis
		logger.Info("Tracking cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.TrackingCacheTTL))
	}

	if len(cfg.KafkaBrokers) > 0 {
		if cfg.KafkaShipmentTopic == "" {
			return nil, fmt.Errorf("KAFKA_SHIPMENT_TOPIC is required when KAFKA_BROKERS is set")
		}
		deps.producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaShipmentTopic)
		deps.publisher = deps.producer
		logger.Info("Status events enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaShipmentTopic),
		)
	}

	return deps, nil
}

func (d *optionalDeps) close(logger *otelzap.Logger) {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			logger.Warn("Failed to close kafka producer", zap.Error(err))
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
}

func readinessChecks(st store.Store, deps *optionalDeps) map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{}
	if pinger, ok := st.(interface{ Ping(context.Context) error }); ok {
		checks["store"] = pinger.Ping
	}
	if deps.redis != nil {
		checks["cache"] = deps.redis.Ping
	}
	return checks
}
