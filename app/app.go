package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"smartflow/aggregator"
	"smartflow/api"
	"smartflow/cache"
	"smartflow/classifier"
	"smartflow/config"
	"smartflow/database"
	"smartflow/notifications"
	"smartflow/pricing"
	"smartflow/realtime"
	"smartflow/registry"
	"smartflow/sink"
	"smartflow/stream"
	"smartflow/tracker"
)

// App represents the main application
type App struct {
	config         *config.Config
	db             *database.Database
	redis          *cache.RedisClient
	repo           *database.Repository
	registry       *registry.Registry
	oracle         *pricing.Oracle
	classifier     *classifier.Classifier
	tracker        *tracker.Tracker
	aggregator     *aggregator.Aggregator
	flowSink       *sink.Sink
	broker         *realtime.Broker
	webhookManager *notifications.WebhookManager
	adapters       []stream.Adapter
	solana         *stream.SolanaAdapter
	leaderboard    *registry.LeaderboardLoader
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
	}
}

// Start starts the application
func (a *App) Start() error {
	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Database Connection
	fmt.Println("🗄️  Connecting to database...")

	dbPort, err := strconv.Atoi(a.config.DatabasePort)
	if err != nil {
		return fmt.Errorf("invalid database port: %w", err)
	}

	db, err := database.Connect(
		a.config.DatabaseHost,
		dbPort,
		a.config.DatabaseName,
		a.config.DatabaseUser,
		a.config.DatabasePassword,
	)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	a.db = db

	// 2. Redis Connection
	fmt.Println("🧠 Connecting to Redis...")
	redisClient := cache.NewRedisClient(
		a.config.RedisHost,
		a.config.RedisPort,
		a.config.RedisPassword,
	)

	if redisClient == nil {
		fmt.Println("⚠️  Redis connection failed. Caching disabled.")
	} else {
		a.redis = redisClient
	}

	// Initialize schema
	a.repo = database.NewRepository(a.db)
	if err := a.repo.InitSchema(); err != nil {
		return fmt.Errorf("schema initialization failed: %w", err)
	}

	// 3. Tracked entity registry. The first load must succeed: an empty
	// registry would silently track nothing.
	if a.config.Registry.LeaderboardURL != "" {
		a.leaderboard = registry.NewLeaderboardLoader(
			a.config.Registry.LeaderboardURL,
			a.config.Registry.Metric,
			a.config.Registry.TopN,
			a.repo.Entities,
		)
		if err := a.leaderboard.Load(ctx); err != nil {
			// Persisted rankings from a previous run still work
			log.Printf("⚠️  Leaderboard sync failed, using persisted rankings: %v", err)
		}
	}

	a.registry = registry.New(a.repo.Entities, a.config.Registry.TopN, a.config.Registry.Metric)
	if _, err := a.registry.Refresh(); err != nil {
		return fmt.Errorf("initial registry load failed: %w", err)
	}
	if a.registry.Size() == 0 {
		return fmt.Errorf("registry is empty after initial load; seed tracked_entities before starting")
	}

	// 4. Pipeline components
	a.oracle = pricing.NewOracle(a.config.Pricing)
	a.classifier = classifier.New(a.config.Classifier, a.repo.Classifications)
	a.tracker = tracker.New(a.registry, a.oracle, a.classifier, a.config.Flow)

	// Warm the position book so restarts do not misread open positions
	positions, err := a.repo.Positions.GetAll()
	if err != nil {
		return fmt.Errorf("position warm-up failed: %w", err)
	}
	a.tracker.LoadPositions(positions)

	a.aggregator = aggregator.New(a.config.Flow.DebounceWindow)

	// Initialize Webhook Manager (with Redis)
	a.webhookManager = notifications.NewWebhookManager(a.repo, a.redis)

	// Initialize Realtime Broker
	a.broker = realtime.NewBroker()
	go a.broker.Run()

	dedup := aggregator.NewDeduper(a.redis, a.config.Flow.NotifDedupTTL)
	a.flowSink = sink.New(a.repo, a.broker, a.webhookManager, dedup)

	// 5. Stream adapters
	raw := make(chan stream.RawActivityEvent, 1024)

	tape := stream.NewTapeAdapter(a.config.TapeWSURL, a.config.TapeAssets, raw, a.oracle.SetMids)
	a.adapters = append(a.adapters, tape)

	if a.config.EVMWSURL != "" {
		evm := stream.NewEVMAdapter(a.config.EVMChain, a.config.EVMWSURL,
			streamTokens(a.config.EVMTokens), raw)
		a.adapters = append(a.adapters, evm)
	} else {
		log.Println("ℹ️  EVM_WS_URL not set, EVM transfer monitoring disabled")
	}

	if a.config.SolanaWSURL != "" {
		a.solana = stream.NewSolanaAdapter(a.config.SolanaWSURL, a.config.SolanaRPCURL,
			streamTokens(a.config.SolanaTokens), raw)
		a.solana.Resubscribe(a.registry.Addresses())
		a.adapters = append(a.adapters, a.solana)
	} else {
		log.Println("ℹ️  SOLANA_WS_URL not set, Solana transfer monitoring disabled")
	}

	// Setup WaitGroups for goroutines. The adapters get their own so the raw
	// channel can be closed the moment the last producer returns.
	var adapterWg, wg sync.WaitGroup

	for _, adapter := range a.adapters {
		adapterWg.Add(1)
		go func(ad stream.Adapter) {
			defer adapterWg.Done()
			log.Printf("📡 Starting %s adapter", ad.Name())
			ad.Run(ctx)
		}(adapter)
	}
	go func() {
		adapterWg.Wait()
		close(raw)
	}()

	// 6. Pipeline: single consumer keeps per-entity ordering. It drains the
	// raw channel to exhaustion, so events buffered at shutdown still reach
	// the debouncer before it flushes and closes.
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runPipeline(ctx, raw)
		a.aggregator.Stop()
	}()

	// 7. Sink consumes debounced flushes until the aggregator closes them
	sinkDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(sinkDone)
		a.flowSink.Run(ctx, a.aggregator.Updates())
	}()

	// 8. Registry refresh supervisor
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.runRegistryRefresh(ctx)
	}()

	// 9. Start API Server
	apiServer := api.NewServer(a.repo, a.webhookManager, a.broker, a.registry)
	go func() {
		if err := apiServer.Start(a.config.APIPort); err != nil {
			log.Printf("⚠️  API Server failed: %v", err)
		}
	}()

	// 10. Wait for interrupt and perform graceful shutdown
	err = a.gracefulShutdown(cancel, sinkDone)

	// Let the sink finish committing flushed updates before the stores close
	wg.Wait()
	a.closeStores()
	return err
}

func (a *App) closeStores() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		} else {
			fmt.Println("✅ Database connection closed")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("Error closing redis: %v", err)
		} else {
			fmt.Println("✅ Redis connection closed")
		}
	}
}

// runPipeline drains the raw event channel through the tracker into the
// debouncer. It returns only when the channel closes, which happens after the
// last adapter stops, so buffered events are always processed.
func (a *App) runPipeline(ctx context.Context, raw <-chan stream.RawActivityEvent) {
	for ev := range raw {
		if update := a.tracker.Process(ctx, ev); update != nil {
			a.aggregator.Offer(update)
		}
	}
}

// runRegistryRefresh reloads the tracked set on an interval. When membership
// changes the Solana subscription set is rebuilt, since its subscription is
// keyed by address. A failed refresh keeps the previous set running.
func (a *App) runRegistryRefresh(ctx context.Context) {
	ticker := time.NewTicker(a.config.Registry.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.leaderboard != nil {
				if err := a.leaderboard.Load(ctx); err != nil {
					log.Printf("⚠️  Leaderboard sync failed: %v", err)
				}
			}
			changed, err := a.registry.Refresh()
			if err != nil {
				log.Printf("⚠️  Registry refresh failed, keeping previous set: %v", err)
				continue
			}
			if changed && a.solana != nil {
				log.Println("🔄 Rebuilding Solana subscriptions for new entity set")
				a.solana.Resubscribe(a.registry.Addresses())
			}

			// Housekeeping piggybacks on the refresh tick
			if purged, err := a.repo.Classifications.PurgeExpiredNegatives(time.Now()); err == nil && purged > 0 {
				log.Printf("🔄 Purged %d expired negative classifications", purged)
			}
		}
	}
}

// gracefulShutdown handles graceful shutdown with timeout. Ordering matters:
// the adapters stop first, which closes the raw channel; the pipeline drains
// it and flushes the debouncer; the sink commits the remainder and signals
// sinkDone. Only then is the context cancelled, so in-flight classification
// and price lookups for buffered events are not cut short.
func (a *App) gracefulShutdown(cancel context.CancelFunc, sinkDone <-chan struct{}) error {
	// Setup signal handling
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	// Wait for interrupt signal
	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Shutdown tasks with timeout
	shutdownComplete := make(chan struct{})
	go func() {
		// Stop stream adapters first so nothing new enters the pipeline
		for _, adapter := range a.adapters {
			fmt.Printf("📡 Stopping %s adapter...\n", adapter.Name())
			adapter.Stop()
		}

		// The pipeline drains, the debouncer flushes, the sink commits
		fmt.Println("📊 Draining pipeline...")
		<-sinkDone

		if a.broker != nil {
			a.broker.Stop()
		}

		cancel()
		close(shutdownComplete)
	}()

	// Wait for shutdown to complete or timeout
	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timeout exceeded, forcing exit")
		cancel()
		return fmt.Errorf("shutdown timeout")
	}
}

// streamTokens converts config token entries to the stream adapter form
func streamTokens(tokens []config.Token) []stream.Token {
	out := make([]stream.Token, len(tokens))
	for i, t := range tokens {
		out[i] = stream.Token{Symbol: t.Symbol, Address: t.Address, Decimals: t.Decimals}
	}
	return out
}
