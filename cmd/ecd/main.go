// Command ecd is the Electoral Commission daemon: it loads configuration
// and key material, opens the election store, recovers live elections,
// and runs the relay dispatcher, status clock, and admin HTTP façade side
// by side. The overall shape is grounded on
// services/otc-gateway/main.go's load-config / open-db / automigrate /
// build-components / serve sequence.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nbd-wtf/go-nostr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/criptocracia/ec/admin"
	"github.com/criptocracia/ec/boot"
	"github.com/criptocracia/ec/clock"
	"github.com/criptocracia/ec/config"
	cryptopkg "github.com/criptocracia/ec/crypto"
	"github.com/criptocracia/ec/envelope"
	"github.com/criptocracia/ec/observability/logging"
	"github.com/criptocracia/ec/relay"
	"github.com/criptocracia/ec/store"
)

const shutdownGrace = 10 * time.Second

func main() {
	dir := flag.String("dir", defaultDataDir(), "data directory for keys, database, and logs")
	flag.Parse()

	if err := os.MkdirAll(*dir, 0o700); err != nil {
		log.Fatalf("create data directory: %v", err)
	}

	cfg, err := config.Load(*dir)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.SetupWithFile("ec", strings.TrimSpace(os.Getenv("EC_ENV")), cfg.LogPath())

	keys, err := cryptopkg.LoadOrCreate(cfg.DataDir)
	if err != nil {
		logger.Error("load or create keypair", "error", err)
		os.Exit(1)
	}

	if cfg.RelaySigningKey == "" {
		logger.Error("missing relay signing key", "env", config.EnvRelaySigningKey)
		os.Exit(1)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.Error("automigrate", "error", err)
		os.Exit(1)
	}
	st := store.New(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	elections, err := boot.Recover(ctx, st, keys.Private)
	if err != nil {
		logger.Error("recover elections", "error", err)
		os.Exit(1)
	}
	logger.Info("recovered elections", "count", len(elections))

	pool := nostr.NewSimplePool(ctx)
	ecPubkey, err := nostr.GetPublicKey(cfg.RelaySigningKey)
	if err != nil {
		logger.Error("derive relay public key", "error", err)
		os.Exit(1)
	}

	publisher := poolPublisher{pool: pool}
	dispatcher := relay.New(st, publisher, cfg.RelayURLs, cfg.RelaySigningKey, ecPubkey, elections, logger)
	dispatcher.AllowLegacyEnvelopes = cfg.AllowLegacyEnvelopes

	facade := admin.New(st, dispatcher, dispatcher, keys.Private, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: admin.NewServer(facade, cfg.CORSAllowedOrigins),
	}

	scheduler := clock.New(dispatcher, dispatcher, logger).WithInterval(cfg.StatusSweepInterval)
	go scheduler.Start(ctx)

	go runSubscriber(ctx, subscriber{
		pool:       pool,
		relayURLs:  cfg.RelayURLs,
		ecPrivkey:  cfg.RelaySigningKey,
		ecPubkey:   ecPubkey,
		dispatcher: dispatcher,
		publisher:  publisher,
		log:        logger,
	})

	go func() {
		logger.Info("admin facade listening", "addr", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin facade stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ec"
	}
	return home + "/.ec"
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		return gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	default:
		return gorm.Open(sqlite.Open(cfg.DatabaseDSN), &gorm.Config{})
	}
}

// poolPublisher adapts a go-nostr SimplePool to relay.Publisher.
type poolPublisher struct {
	pool *nostr.SimplePool
}

func (p poolPublisher) Publish(ctx context.Context, url string, event nostr.Event) error {
	r, err := p.pool.EnsureRelay(url)
	if err != nil {
		return fmt.Errorf("connect to relay %s: %w", url, err)
	}
	return r.Publish(ctx, event)
}

// subscriber owns the gift-wrap intake loop: subscribe, unwrap and
// dispatch, gift-wrap and publish any reply back to the sender.
type subscriber struct {
	pool       *nostr.SimplePool
	relayURLs  []string
	ecPrivkey  string
	ecPubkey   string
	dispatcher *relay.Dispatcher
	publisher  poolPublisher
	log        *slog.Logger
}

func runSubscriber(ctx context.Context, s subscriber) {
	filter := nostr.Filter{
		Kinds: []int{nostr.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{s.ecPubkey}},
	}
	for ev := range s.pool.SubscribeMany(ctx, s.relayURLs, nostr.Filters{filter}) {
		reply, senderPubkey, err := s.dispatcher.HandleGiftWrap(ctx, *ev.Event)
		if err != nil {
			s.log.Warn("envelope dispatch failed", "error", err)
			continue
		}
		if reply == nil {
			continue
		}
		if err := envelope.Publish(ctx, s.pool, s.relayURLs, s.ecPrivkey, senderPubkey, *reply); err != nil {
			s.log.Error("reply publish failed", "error", err)
		}
	}
}
