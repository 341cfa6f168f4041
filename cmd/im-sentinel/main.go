package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sony/sonyflake"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lzyats/im-sentinel/internal/audit"
	"github.com/lzyats/im-sentinel/internal/breaker"
	"github.com/lzyats/im-sentinel/internal/bridge"
	"github.com/lzyats/im-sentinel/internal/config"
	"github.com/lzyats/im-sentinel/internal/dispatch"
	"github.com/lzyats/im-sentinel/internal/logging"
	"github.com/lzyats/im-sentinel/internal/media"
	"github.com/lzyats/im-sentinel/internal/metrics"
	"github.com/lzyats/im-sentinel/internal/outbound"
	"github.com/lzyats/im-sentinel/internal/policy"
	"github.com/lzyats/im-sentinel/internal/statuspage"
	"github.com/lzyats/im-sentinel/internal/store"
	"github.com/lzyats/im-sentinel/internal/supervisor"
	"github.com/lzyats/im-sentinel/internal/toggles"
)

var (
	// Version is injected via -ldflags "-X main.Version=..."
	Version = "dev"
)

func main() {
	var cfgPaths string
	flag.StringVar(&cfgPaths, "c", "./config.yml", "config file path (supports: a.yml,b.yml)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPaths)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config failed:", err)
		os.Exit(1)
	}

	log, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init failed:", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("im-sentinel starting",
		zap.String("version", Version),
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("gateway", cfg.Gateway.URL),
		zap.String("storage", cfg.Storage.Driver),
	)
	if err := run(cfg, log); err != nil {
		log.Fatal("im-sentinel stopped", zap.Error(err))
	}
	log.Info("im-sentinel stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := store.Open(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer stores.Close()

	vault, err := media.NewVault(cfg.Storage.MediaDir)
	if err != nil {
		return fmt.Errorf("media dir: %w", err)
	}

	sink, err := newAuditSink(cfg, log)
	if err != nil {
		return fmt.Errorf("audit init: %w", err)
	}
	defer sink.Close()

	ids, err := newIDSource()
	if err != nil {
		return fmt.Errorf("id source: %w", err)
	}

	tg := toggles.New(*cfg.Pipeline.Autotyping)
	fwd := policy.NewForwarder(cfg.Owner.JID, breaker.New(breaker.Options{
		Threshold: cfg.Breaker.Threshold,
		Window:    cfg.Breaker.Window,
		OpenFor:   cfg.Breaker.OpenFor,
	}))
	throttle := outbound.New(cfg.Outbound.Rate, cfg.Outbound.Burst)

	presence := policy.NewPresence(tg, cfg.Pipeline.TypingInterval, cfg.Pipeline.PresenceTTL)

	fatal := make(chan error, 1)
	disp := dispatch.New(dispatch.Options{
		Message: []dispatch.Handler{
			policy.NewOwner(cfg.Owner.JID, tg),
			policy.NewWelcome(stores.Seen, cfg.Pipeline.Greeting),
			presence,
			policy.NewMediaCapture(vault, fwd, sink, log),
		},
		Status: []dispatch.Handler{
			policy.NewStatusReactor(tg, cfg.Pipeline.StatusDedupeTTL),
		},
		Deletion: []dispatch.Handler{
			policy.NewDeletion(stores.Deleted, fwd, ids, sink, log),
		},
		MaxInflight: cfg.Pipeline.MaxInflight,
		Outbound:    throttle.Wrap,
		OnFatal: func(err error) {
			select {
			case fatal <- err:
			default:
			}
		},
		Log: log,
	})

	sup := supervisor.New(supervisor.Options{
		Connector: bridge.NewConnector(bridge.Options{
			URL:            cfg.Gateway.URL,
			DialTimeout:    cfg.Gateway.DialTimeout,
			WriteTimeout:   cfg.Gateway.WriteTimeout,
			RequestTimeout: cfg.Gateway.RequestTimeout,
			EventBuffer:    cfg.Gateway.EventBuffer,
			Log:            log.Named("bridge"),
		}),
		Creds:          stores.Creds,
		Pipeline:       disp,
		ReconnectDelay: cfg.Supervisor.ReconnectDelay,
		CredRetries:    cfg.Supervisor.CredRetries,
		CredBackoff:    cfg.Supervisor.CredBackoff,
		OnSession:      presence.ResetSubscriptions,
		Log:            log.Named("supervisor"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           statuspage.New(sup, log),
		ReadHeaderTimeout: 2 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http listening", zap.String("addr", cfg.HTTP.Addr), zap.String("qr", "/qr"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		// a terminated session keeps the HTTP surface up so /healthz reports it
		if err := sup.Run(gctx); err != nil {
			log.Error("session terminated, remove credentials and restart to pair again", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-fatal:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	disp.Wait()
	return nil
}

func newAuditSink(cfg *config.Config, log *zap.Logger) (audit.Sink, error) {
	rc := cfg.Audit.RocketMQ
	if !rc.Enabled {
		return audit.Nop{}, nil
	}
	p, err := audit.NewRocketMQ(audit.Settings{
		NameServer: rc.NameServer,
		Topic:      rc.Topic,
		Tag:        rc.Tag,
		Group:      rc.ProducerGroup,
		AccessKey:  rc.AccessKey,
		SecretKey:  rc.SecretKey,
		Log:        log.Named("audit"),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// newIDSource prefers the private-IP machine id and falls back to the pid
// when no private address is available (containers, laptops).
func newIDSource() (*sonyflake.Sonyflake, error) {
	sf, err := sonyflake.New(sonyflake.Settings{})
	if err == nil {
		return sf, nil
	}
	return sonyflake.New(sonyflake.Settings{
		MachineID: func() (uint16, error) { return uint16(os.Getpid()), nil },
	})
}
