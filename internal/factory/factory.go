package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sms-panel/internal/client"
	"sms-panel/internal/config"
	redisrepo "sms-panel/internal/repository/redis"
	"sms-panel/internal/service"
	"sms-panel/internal/tls"
	"sms-panel/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	redisClient   *client.RedisClient
	backendClient *client.BackendClient

	// Repositories
	panelStore     *redisrepo.PanelStore
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		tlsConfig := &tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		}
		factory.tlsManager = tls.NewTLSManager(tlsConfig)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	factory.ServiceFactory().Bootstrap()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("backend_url", cfg.Backend.BaseURL),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Remote SMS backend. Its health endpoint is best-effort: the panel
	// still starts when the backend is down, operations surface the errors.
	if backendClient, err := client.NewBackendClient(f.config.Backend.BaseURL, f.config.Backend.RequestTimeout, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("backend: %w", err))
	} else {
		f.backendClient = backendClient
		if err := f.backendClient.Health(ctx); err != nil {
			util.Warn("Backend unreachable at startup - proceeding anyway", util.ErrorField(err))
		} else {
			util.Info("Backend client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) PanelStore() *redisrepo.PanelStore {
	if f.panelStore == nil {
		f.panelStore = redisrepo.NewPanelStore(f.RedisClient())
	}
	return f.panelStore
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.BackendClient(),
			f.PanelStore(),
			f.config,
		)
	}
	return f.serviceFactory
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.backendClient != nil {
		if err := f.backendClient.Health(ctx); err != nil {
			healthErrors["backend"] = err
		}
	} else {
		healthErrors["backend"] = fmt.Errorf("backend client not initialized")
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	// The panel degrades gracefully when the backend is down.
	delete(healthErrors, "backend")
	return len(healthErrors) == 0
}

// ==============================
// Lifecycle
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
			util.Info("Service factory cleaned up")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) RedisClient() *client.RedisClient {
	return f.redisClient
}

func (f *Factory) BackendClient() *client.BackendClient {
	return f.backendClient
}
