package factory

import (
	"context"
	"fmt"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/amoylab/botgate/internal/provider"
	"github.com/amoylab/botgate/internal/provider/bridge"
	"github.com/amoylab/botgate/internal/provider/mock"

	"go.uber.org/zap"
)

// Type represents the type of provider
type Type string

const (
	// TypeMock represents the in-process provider
	TypeMock Type = "mock"
	// TypeBridge represents the sidecar-backed provider
	TypeBridge Type = "bridge"
)

// New creates a provider factory based on configuration
func New(ctx context.Context, logger *zap.Logger, cfg config.ProviderConfig) (provider.Factory, error) {
	logger.Info("Initializing provider", zap.String("type", cfg.Type))
	switch Type(cfg.Type) {
	case TypeMock:
		return mock.NewFactory(logger, cfg.Mock), nil
	case TypeBridge:
		return bridge.NewFactory(ctx, logger, cfg.Bridge)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", cfg.Type)
	}
}
