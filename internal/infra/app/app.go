package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Maksone34334/x402new/internal/cdp"
	"github.com/Maksone34334/x402new/internal/infra/config"
	"github.com/Maksone34334/x402new/internal/infra/logger"
	"github.com/Maksone34334/x402new/internal/osint"
	"github.com/Maksone34334/x402new/internal/ratelimit"
	"github.com/Maksone34334/x402new/internal/transport/http/middleware"
	"github.com/Maksone34334/x402new/internal/transport/http/routes"
	"github.com/Maksone34334/x402new/internal/x402"
)

type Application struct {
	cfg       *config.AppConfig
	engine    *gin.Engine
	logger    *zap.Logger
	paid      *ratelimit.Limiter
	anonymous *ratelimit.Limiter
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	paidLimiter := ratelimit.New(ratelimit.Config{
		Name:          "paid",
		MaxRequests:   cfg.RateLimit.PaidMaxRequests,
		Window:        cfg.RateLimit.PaidWindow,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}, log)
	anonymousLimiter := ratelimit.New(ratelimit.Config{
		Name:          "anonymous",
		MaxRequests:   cfg.RateLimit.AnonymousMaxRequests,
		Window:        cfg.RateLimit.AnonymousWindow,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}, log)

	payments := x402.NewResourceServer(x402.RouteConfig{
		Price:       cfg.X402.Price,
		Network:     cfg.X402.Network,
		PayTo:       cfg.X402.PayTo,
		Description: "Intelligence lookup",
		MimeType:    "application/json",
	}, cfg.X402.FacilitatorURL, log)

	lookups := osint.New(osint.Config{
		APIURL:   cfg.OSINT.APIURL,
		APIToken: cfg.OSINT.APIToken,
		Timeout:  cfg.OSINT.Timeout,
	}, log)

	settlementRelay := cdp.NewRelay(cdp.Credentials{
		APIKeyID:     cfg.CDP.APIKeyID,
		APIKeySecret: cfg.CDP.APIKeySecret,
		WalletSecret: cfg.CDP.WalletSecret,
	}, cfg.CDP.SettleHost, cfg.CDP.SettlePath, log)

	engine := routes.Register(routes.Dependencies{
		Config:           cfg,
		Logger:           log,
		Payments:         payments,
		Lookups:          lookups,
		SettlementRelay:  settlementRelay,
		PaidLimiter:      paidLimiter,
		AnonymousLimiter: anonymousLimiter,
		Metrics:          metrics,
	})

	return &Application{
		cfg:       cfg,
		engine:    engine,
		logger:    log,
		paid:      paidLimiter,
		anonymous: anonymousLimiter,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.paid.Stop()
	defer a.anonymous.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting x402 search API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("network", a.cfg.X402.Network),
		zap.String("price", a.cfg.X402.Price),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
