package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rewired-gh/candlesentry/internal/binance"
	"github.com/rewired-gh/candlesentry/internal/bybit"
	"github.com/rewired-gh/candlesentry/internal/chart"
	"github.com/rewired-gh/candlesentry/internal/config"
	"github.com/rewired-gh/candlesentry/internal/logger"
	"github.com/rewired-gh/candlesentry/internal/market"
	"github.com/rewired-gh/candlesentry/internal/metrics"
	"github.com/rewired-gh/candlesentry/internal/models"
	"github.com/rewired-gh/candlesentry/internal/monitor"
	"github.com/rewired-gh/candlesentry/internal/redisbus"
	"github.com/rewired-gh/candlesentry/internal/storage"
	"github.com/rewired-gh/candlesentry/internal/telegram"
	flag "github.com/spf13/pflag"
)

var (
	configPath = flag.StringP("config", "c", "configs/config.yaml", "Path to configuration file")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file with secrets")
	seed       = flag.Bool("seed-strategies", false, "Upsert watch.strategies from the config into storage before starting")
	remove     = flag.StringSlice("delete-strategy", nil, "Delete stored strategies by name before starting (repeatable)")
)

// strategyStore is the part of the storage the startup flags touch.
type strategyStore interface {
	UpsertStrategy(st models.Strategy) error
	DeleteStrategy(name string) error
}

// syncStrategies applies --seed-strategies and --delete-strategy. Deletions
// run after seeding so a name can be retired in the same invocation.
func syncStrategies(store strategyStore, seed []models.Strategy, remove []string) error {
	for _, st := range seed {
		if err := store.UpsertStrategy(st); err != nil {
			return fmt.Errorf("seed strategy %s: %w", st.Name, err)
		}
	}
	for _, name := range remove {
		if err := store.DeleteStrategy(name); err != nil {
			return fmt.Errorf("delete strategy %s: %w", name, err)
		}
	}
	return nil
}

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.GetLogFileConfig()...)
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cancelling workers...")
		cancel()
	}()

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.MaxAlerts, cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
		if err := store.RotateAlerts(); err != nil {
			logger.Warn("Failed to rotate alerts: %v", err)
		}

		var seeded []models.Strategy
		if *seed {
			seeded = cfg.Watch.Strategies
		}
		if err := syncStrategies(store, seeded, *remove); err != nil {
			logger.Fatal("Failed to update stored strategies: %v", err)
		}
		if len(seeded) > 0 || len(*remove) > 0 {
			logger.Info("Stored strategies updated (seeded: %d, deleted: %d)", len(seeded), len(*remove))
		}
	} else if *seed || len(*remove) > 0 {
		logger.Fatal("--seed-strategies and --delete-strategy require storage.enabled")
	}

	sinks := monitor.Multi{{Name: "log", Notifier: monitor.LogNotifier{}}}
	var status monitor.StatusNotifier

	if store != nil {
		sinks = append(sinks, monitor.NamedNotifier{Name: "storage", Notifier: store})
	}

	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
		sinks = append(sinks, monitor.NamedNotifier{Name: "telegram", Notifier: telegramClient})
		status = telegramClient
		if store != nil {
			telegramClient.SetHistory(store)
		}
		if cfg.Telegram.Commands {
			telegramClient.ListenForCommands(ctx)
		}
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	if cfg.Redis.Enabled {
		pub := redisbus.NewPublisher(redisbus.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Channel:    cfg.Redis.Channel,
			RecentKey:  cfg.Redis.RecentKey,
			RecentSize: cfg.Redis.RecentSize,
		})
		defer pub.Close()
		if err := pub.Ping(ctx); err != nil {
			logger.Warn("Redis not reachable at %s, alerts will still be attempted: %v", cfg.Redis.Addr, err)
		}
		sinks = append(sinks, monitor.NamedNotifier{Name: "redis", Notifier: pub})
	}

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
		logger.Info("Metrics exposed on %s/metrics", cfg.Metrics.Addr)
	}

	httpCfg := cfg.GetHTTPConfig()
	httpClient := market.NewHTTPClient(httpCfg)
	guard := market.NewGuard(cfg.Market.Provider, httpCfg)

	var provider market.Provider
	switch cfg.Market.Provider {
	case "binance":
		provider = binance.NewClient(cfg.Market.BaseURL, httpClient, guard)
	default:
		provider = bybit.NewClient(cfg.Market.BaseURL, cfg.Market.Category, httpClient, guard)
	}

	var renderer monitor.Renderer
	if cfg.Chart.Enabled {
		r := chart.NewRenderer(cfg.Chart.OutputDir, cfg.Chart.Bars)
		r.Width, r.Height = cfg.Chart.Width, cfg.Chart.Height
		r.MaxFiles = cfg.Chart.MaxFiles
		if err := r.Prune(); err != nil {
			logger.Warn("Failed to prune charts: %v", err)
		}
		renderer = r
	}

	explicit := cfg.Watch.Strategies
	if cfg.Watch.StrategiesFromStorage {
		stored, err := store.ListStrategies(true)
		if err != nil {
			logger.Fatal("Failed to load strategies: %v", err)
		}
		explicit = append(append([]models.Strategy{}, explicit...), stored...)
		logger.Info("Loaded %d strategies from storage", len(stored))
	}
	strategies := monitor.Strategies(cfg.Watch.Symbols, cfg.GetTimeframes(), explicit)
	if len(strategies) == 0 {
		logger.Fatal("No enabled strategies to watch")
	}

	fast := make([]models.Timeframe, 0, len(cfg.Watch.FastTimeframes))
	for _, tf := range cfg.Watch.FastTimeframes {
		fast = append(fast, models.Timeframe(tf))
	}

	orch := monitor.NewOrchestrator(monitor.Options{
		Rules:            cfg.GetRulesConfig(),
		FastTimeframes:   fast,
		PollFast:         cfg.Watch.PollFast,
		PollSlow:         cfg.Watch.PollSlow,
		InitCandles:      cfg.Watch.InitCandles,
		MaxCandles:       cfg.Watch.MaxCandles,
		OrderBookWindow:  cfg.Watch.OrderBookWindow,
		ATRPeriod:        cfg.Rules.ATRPeriod,
		ErrorNotifyAfter: cfg.Watch.ErrorNotifyAfter,
	}, strategies, provider, renderer, sinks, status)

	logger.Info("Starting polling service (provider: %s, strategies: %d, fast: %v, slow: %v)",
		provider.Name(), len(strategies), cfg.Watch.PollFast, cfg.Watch.PollSlow)
	for _, w := range orch.Workers() {
		logger.Debug("Watching %s every %s", w.Key(), w.Interval())
	}

	if err := orch.Run(ctx); err != nil {
		logger.Error("Orchestrator stopped with error: %v", err)
	}
	logger.Info("Service stopped")
}
