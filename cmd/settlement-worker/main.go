package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/odds"
	"github.com/radieske/wager-settlement-engine/internal/pricefeed"
	"github.com/radieske/wager-settlement-engine/internal/publisher"
	"github.com/radieske/wager-settlement-engine/internal/scheduler"
	"github.com/radieske/wager-settlement-engine/internal/settlement"
	sharedcache "github.com/radieske/wager-settlement-engine/internal/shared/cache"
	"github.com/radieske/wager-settlement-engine/internal/shared/config"
	"github.com/radieske/wager-settlement-engine/internal/shared/db"
	"github.com/radieske/wager-settlement-engine/internal/shared/kafka"
	"github.com/radieske/wager-settlement-engine/internal/shared/logger"
	"github.com/radieske/wager-settlement-engine/internal/shared/metrics"
	"github.com/radieske/wager-settlement-engine/internal/store/postgres"
	"github.com/radieske/wager-settlement-engine/internal/zones"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "settlement-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres + schema
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.DefaultPool)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()
	if err := postgres.Apply(ctx, pg); err != nil {
		log.Fatal("postgres schema", zap.Error(err))
	}
	st := postgres.New(pg)

	redisClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer redisClient.Close()

	// Kafka: writer único, tópico por mensagem
	brokers := kafka.Brokers(cfg.KafkaBrokers)
	topics := publisher.Topics{
		ZoneOpened:      cfg.TopicZoneOpened,
		OddsUpdates:     cfg.TopicOddsUpdates,
		BetPlaced:       cfg.TopicBetPlaced,
		BetSettled:      cfg.TopicBetSettled,
		PriceBetSettled: cfg.TopicPriceBetSettled,
		RewardCredited:  cfg.TopicRewardCredited,
	}
	if cfg.Env == "local" || cfg.Env == "dev" {
		if err := kafka.EnsureTopics(ctx, brokers, topics.All()...); err != nil {
			log.Warn("kafka ensure topics", zap.Error(err))
		}
	}
	pub := publisher.NewKafkaPublisher(kafka.NewWriter(brokers), topics, log.Named("publisher"))
	defer pub.Close()

	m := metrics.NewEngine(prometheus.DefaultRegisterer)

	prices := pricefeed.New(cfg.PriceFeedURL, cfg.PriceFeedJSONPath, cfg.PriceFeedTimeout)

	// Odds: cache Redis (broadcast ws) + tópico Kafka
	oddsCache := odds.NewRedisCache(redisClient, cfg.OddsCacheTTL)
	oddsCache.Channel = cfg.RedisOddsChannel
	engine := odds.NewEngine(log.Named("odds"), st, prices, odds.Sinks{oddsCache, pub}, odds.Config{
		BaseOdds: cfg.BaseOdds, RiskMargin: cfg.RiskMargin, MinOdds: cfg.MinOdds, MaxOdds: cfg.MaxOdds,
	})
	engine.OnAdjusted = m.OddsAdjusted.Inc
	engine.OnError = m.ErrorFunc("odds")

	// Zonas
	mcfg, err := maintenanceConfig(cfg)
	if err != nil {
		log.Fatal("zone config", zap.Error(err))
	}
	manager := zones.NewManager(log.Named("zones"), st)
	manager.Events = pub
	maintainer := zones.NewMaintainer(manager, prices, pub, mcfg)

	// Liquidação
	checker := settlement.NewChecker(log.Named("settlement"), st, prices, pub)
	checker.Continuous = continuousFunc(mcfg.Assets)
	checker.OnSettled = m.Settled
	checker.OnPaid = m.Paid
	checker.OnError = m.ErrorFunc("settlement")

	// Scheduler
	market, err := scheduler.ParseMarketHours(cfg.MarketTZ, cfg.MarketOpen, cfg.MarketClose, cfg.MarketHoliday)
	if err != nil {
		log.Fatal("market hours", zap.Error(err))
	}
	sched := scheduler.New(log.Named("scheduler"), market, cfg.WarmupDelay)
	sched.OnRun = m.ObserveJob
	sched.OnSkip = m.SkipJob

	jobs := []struct {
		name string
		spec string
		fn   scheduler.JobFunc
	}{
		{"odds", cfg.OddsInterval, func(ctx context.Context, _ bool) error {
			_, err := engine.RunOddsAdjustmentTick(ctx)
			return err
		}},
		{"zones", cfg.SweepCron, func(ctx context.Context, marketHours bool) error {
			n, err := maintainer.RunZoneMaintenanceTick(ctx, marketHours)
			m.ZonesOpened.Add(float64(n))
			return err
		}},
		{"settlement", cfg.SweepCron, func(ctx context.Context, marketHours bool) error {
			_, err := checker.RunSettlementTick(ctx, marketHours)
			return err
		}},
	}
	for _, j := range jobs {
		if err := sched.Add(j.name, j.spec, j.fn); err != nil {
			log.Fatal("scheduler add", zap.String("job", j.name), zap.Error(err))
		}
	}

	// metrics/health
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, prometheus.DefaultGatherer, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}, log)

	sched.Start(ctx)
	log.Info("settlement-worker started",
		zap.String("odds", cfg.OddsInterval),
		zap.String("sweep", cfg.SweepCron),
		zap.Duration("warmup", cfg.WarmupDelay),
	)

	<-ctx.Done()
	log.Info("shutting down")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func maintenanceConfig(cfg config.Config) (zones.MaintenanceConfig, error) {
	assets, err := zones.ParseAssets(cfg.Assets)
	if err != nil {
		return zones.MaintenanceConfig{}, err
	}
	var curs []domain.Currency
	for _, s := range strings.Split(cfg.Currencies, ",") {
		if strings.TrimSpace(s) == "" {
			continue
		}
		c, err := domain.ParseCurrency(s)
		if err != nil {
			return zones.MaintenanceConfig{}, err
		}
		curs = append(curs, c)
	}
	var tfs []domain.Timeframe
	for _, s := range strings.Split(cfg.ZoneTimeframes, ",") {
		tf := domain.Timeframe(strings.TrimSpace(s))
		if tf == "" {
			continue
		}
		if _, err := tf.Duration(); err != nil {
			return zones.MaintenanceConfig{}, err
		}
		tfs = append(tfs, tf)
	}
	betType := domain.BetType(strings.ToUpper(cfg.ZoneBetType))
	if !betType.Valid() {
		return zones.MaintenanceConfig{}, domain.Invalid("unsupported zone bet type %q", cfg.ZoneBetType)
	}
	return zones.MaintenanceConfig{
		Assets:     assets,
		Currencies: curs,
		Timeframes: tfs,
		Margin:     cfg.ZoneMargin,
		Offset:     cfg.ZoneOffset,
		BaseOdds:   cfg.BaseOdds,
		BetType:    betType,
		Delist:     cfg.ZoneDelist,
	}, nil
}

// continuousFunc: ticker fora da lista é tratado como contínuo
func continuousFunc(assets []zones.Asset) func(string) bool {
	kinds := make(map[string]bool, len(assets))
	for _, a := range assets {
		kinds[a.Ticker] = a.Continuous()
	}
	return func(ticker string) bool {
		c, ok := kinds[strings.ToUpper(ticker)]
		return !ok || c
	}
}
