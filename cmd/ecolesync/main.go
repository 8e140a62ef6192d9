package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ecolesuite/ecolesync/internal/activations"
	"github.com/ecolesuite/ecolesync/internal/ecolesync"
)

func main() {
	// .env is optional; real env always wins.
	_ = godotenv.Load()

	databaseURL := flag.String("database-url", strings.TrimSpace(os.Getenv("ECOLESYNC_DATABASE_URL")), "postgres DSN of the remote store")
	ownerID := flag.String("owner", strings.TrimSpace(os.Getenv("ECOLESYNC_OWNER_ID")), "owner identity supplied by the session layer")
	feedKind := flag.String("feed", envOrDefault("ECOLESYNC_FEED", "postgres"), "change-feed transport: postgres or websocket")
	feedURL := flag.String("feed-url", strings.TrimSpace(os.Getenv("ECOLESYNC_FEED_URL")), "realtime websocket URL (websocket feed only)")
	ledgerDSN := flag.String("ledger-dsn", envOrDefault("ECOLESYNC_LEDGER_DSN", "memory:"), "activation ledger storage DSN")
	ledgerPrefix := flag.String("ledger-prefix", strings.TrimSpace(os.Getenv("ECOLESYNC_LEDGER_PREFIX")), "ledger key namespace prefix")
	refreshTimeout := flag.Duration("refresh-timeout", durationEnv("ECOLESYNC_REFRESH_TIMEOUT", 15*time.Second), "per-refetch timeout")
	flag.Parse()

	if *databaseURL == "" {
		log.Fatalf("database-url is required (--database-url or ECOLESYNC_DATABASE_URL)")
	}
	if *ownerID == "" {
		log.Fatalf("owner is required (--owner or ECOLESYNC_OWNER_ID)")
	}

	pg, err := ecolesync.OpenPostgres(*databaseURL)
	if err != nil {
		log.Fatalf("failed to open remote store: %v", err)
	}
	owner := ecolesync.StaticOwner(*ownerID)
	notifier := ecolesync.NewLogNotifier(log.Default())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	subs := make([]*ecolesync.Subscription, 0, 3)
	closeSubs := func() {
		for _, sub := range subs {
			if err := sub.Close(); err != nil {
				log.Printf("closing subscription: %v", err)
			}
		}
	}

	classSub, err := syncEntity(ctx, syncConfig{
		table:          "classes",
		feedKind:       *feedKind,
		feedURL:        *feedURL,
		databaseURL:    *databaseURL,
		refreshTimeout: *refreshTimeout,
	}, pg.Classes(), owner, notifier, ecolesync.ClassMessages())
	if err != nil {
		log.Fatalf("failed to start classes sync: %v", err)
	}
	subs = append(subs, classSub)

	studentSub, err := syncEntity(ctx, syncConfig{
		table:          "students",
		feedKind:       *feedKind,
		feedURL:        *feedURL,
		databaseURL:    *databaseURL,
		refreshTimeout: *refreshTimeout,
	}, pg.Students(), owner, notifier, ecolesync.StudentMessages())
	if err != nil {
		closeSubs()
		log.Fatalf("failed to start students sync: %v", err)
	}
	subs = append(subs, studentSub)

	teacherSub, err := syncEntity(ctx, syncConfig{
		table:          "teachers",
		feedKind:       *feedKind,
		feedURL:        *feedURL,
		databaseURL:    *databaseURL,
		refreshTimeout: *refreshTimeout,
	}, pg.Teachers(), owner, notifier, ecolesync.TeacherMessages())
	if err != nil {
		closeSubs()
		log.Fatalf("failed to start teachers sync: %v", err)
	}
	subs = append(subs, teacherSub)

	ledger, ledgerClose, err := openLedger(*ledgerDSN, *ledgerPrefix)
	if err != nil {
		closeSubs()
		log.Fatalf("failed to open activation ledger: %v", err)
	}
	log.Printf("activation ledger ready: %d fee activations, %d service activations",
		len(ledger.ActiveFeeKeys()), len(ledger.ActiveServiceKeys()))

	log.Printf("ecolesync running for owner %s (feed: %s)", *ownerID, *feedKind)
	<-ctx.Done()

	closeSubs()
	ledgerClose()
	if err := pg.Close(); err != nil {
		log.Printf("closing remote store: %v", err)
	}
}

type syncConfig struct {
	table          string
	feedKind       string
	feedURL        string
	databaseURL    string
	refreshTimeout time.Duration
}

func syncEntity[R ecolesync.Record[R]](
	ctx context.Context,
	cfg syncConfig,
	gateway ecolesync.Gateway[R],
	owner ecolesync.OwnerSource,
	notifier ecolesync.Notifier,
	messages ecolesync.Messages[R],
) (*ecolesync.Subscription, error) {
	store, err := ecolesync.NewStore(ecolesync.StoreOptions[R]{
		Table:    cfg.table,
		Gateway:  gateway,
		Owner:    owner,
		Notifier: notifier,
		Logger:   log.Default(),
		Messages: messages,
	})
	if err != nil {
		return nil, err
	}
	feed, err := buildFeed(cfg)
	if err != nil {
		return nil, err
	}
	sub, err := ecolesync.Subscribe(ctx, ecolesync.SubscriptionOptions{
		Table:          cfg.table,
		Feed:           feed,
		Refresher:      store,
		Owner:          owner,
		Logger:         log.Default(),
		RefreshTimeout: cfg.refreshTimeout,
	})
	if err != nil {
		_ = feed.Close()
		return nil, err
	}
	fetchCtx, cancel := context.WithTimeout(ctx, cfg.refreshTimeout)
	store.FetchAll(fetchCtx)
	cancel()
	log.Printf("%s mirror primed with %d records", cfg.table, len(store.Records()))
	return sub, nil
}

func buildFeed(cfg syncConfig) (ecolesync.Feed, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.feedKind)) {
	case "", "postgres":
		return ecolesync.NewPostgresFeed(cfg.databaseURL, cfg.table, log.Default())
	case "websocket", "ws":
		return ecolesync.NewWebsocketFeed(cfg.feedURL, cfg.table, log.Default())
	default:
		return nil, ecolesync.ErrInvalidInput
	}
}

func openLedger(dsn, prefix string) (*activations.Ledger, func(), error) {
	store, err := activations.OpenBlobStore(dsn)
	if err != nil {
		return nil, nil, err
	}
	ledger, err := activations.NewLedger(activations.LedgerOptions{Store: store, KeyPrefix: prefix})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if closer, ok := store.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				log.Printf("closing ledger storage: %v", err)
			}
		}
	}
	watcher, err := ledger.Watch(func() {
		log.Printf("activation ledger changed externally")
	})
	if err == nil {
		prev := cleanup
		cleanup = func() {
			if err := watcher.Close(); err != nil {
				log.Printf("closing ledger watcher: %v", err)
			}
			prev()
		}
	}
	return ledger, cleanup, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
