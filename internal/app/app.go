package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"wa-gateway/internal/api"
	"wa-gateway/internal/blob"
	"wa-gateway/internal/infra/config"
	"wa-gateway/internal/infra/logger"
	"wa-gateway/internal/service/connector"
	"wa-gateway/internal/service/send"
	"wa-gateway/internal/service/session"
	"wa-gateway/internal/store"
	"wa-gateway/internal/utils/retry"
	"wa-gateway/internal/wa"
)

const shutdownTimeout = 10 * time.Second

// App is the main application orchestrator.
type App struct {
	Config   *config.Config
	Log      *logger.Logger
	KV       *store.KV
	Devices  *store.DeviceStore
	Sessions *session.Manager
	Sender   *send.SendService
	Server   *api.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new App instance.
func New(cfg *config.Config) (*App, error) {
	log := logger.New("gateway", cfg.LogLevel, cfg.LogFormat)
	log.Infof("Initializing WhatsApp gateway...")

	ctx, cancel := context.WithCancel(context.Background())

	kv := store.NewKV(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), cfg.Redis.KeyPrefix)

	pingRetry := retry.DefaultConfig()
	pingRetry.MaxAttempts = 5
	pingRetry.InitialWait = 500 * time.Millisecond
	_, err := retry.DoWithConfig(ctx, pingRetry, func() (struct{}, error) {
		return struct{}{}, kv.Ping(ctx)
	})
	if err != nil {
		cancel()
		kv.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}

	if err := cfg.EnsureStorePath(); err != nil {
		cancel()
		kv.Close()
		return nil, fmt.Errorf("failed to ensure store path: %w", err)
	}
	devices, err := store.NewDeviceStore(ctx, cfg.DevicePath(), log)
	if err != nil {
		cancel()
		kv.Close()
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}

	blobs, err := blob.New(cfg.Minio)
	if err != nil {
		cancel()
		kv.Close()
		devices.Close()
		return nil, err
	}

	timings := cfg.Session
	creds := store.NewCredentialStore(kv, timings.CredsTTL(), timings.KeysTTL(), log)
	status := store.NewStatusStore(kv, timings.StatusTTL(), timings.QRTTL())

	dialer := wa.NewDialer(devices, cfg.Device.Name, log)
	adapter := connector.New(dialer, creds, timings.ReconnectDelay(), log)
	sessions := session.NewManager(adapter, status, session.Timings{
		PairingWait:    timings.PairingWait(),
		ConcurrentWait: timings.ConcurrentWait(),
		LoginTimeout:   timings.LoginTimeout(),
		StatusRefresh:  timings.StatusRefresh(),
	}, log)
	sender := send.NewSendService(sessions, blobs, log)

	return &App{
		Config:   cfg,
		Log:      log,
		KV:       kv,
		Devices:  devices,
		Sessions: sessions,
		Sender:   sender,
		Server:   api.New(sessions, sender, cfg.HTTP.Token, log),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Run serves HTTP until SIGINT/SIGTERM or a server failure.
func (a *App) Run() error {
	a.Log.Infof("Starting WhatsApp gateway...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			a.Log.Infof("Received %v, initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	go a.Sessions.Run(a.ctx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.Server.Start(a.Config.HTTP.Listen)
	}()

	var err error
	select {
	case <-a.ctx.Done():
	case err = <-serveErr:
		if err != nil {
			a.Log.Errorf("HTTP server stopped: %v", err)
		}
	}
	return errors.Join(err, a.Shutdown())
}

// Shutdown stops HTTP and ends all connections. Stored state is kept so
// sessions resume on the next start.
func (a *App) Shutdown() error {
	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}
	a.Sessions.Close()
	if err := a.Devices.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close device store: %w", err))
	}
	if err := a.KV.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
	}
	a.Log.Infof("Shutdown complete")
	return errors.Join(errs...)
}
