package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	httpapi "github.com/radieske/wager-settlement-engine/internal/api/http"
	"github.com/radieske/wager-settlement-engine/internal/api/ws"
	"github.com/radieske/wager-settlement-engine/internal/bets"
	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/odds"
	"github.com/radieske/wager-settlement-engine/internal/pricefeed"
	"github.com/radieske/wager-settlement-engine/internal/publisher"
	"github.com/radieske/wager-settlement-engine/internal/reward"
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
		cfg.ServiceName = "wager-api"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	pub := publisher.NewKafkaPublisher(kafka.NewWriter(kafka.Brokers(cfg.KafkaBrokers)), publisher.Topics{
		ZoneOpened:      cfg.TopicZoneOpened,
		OddsUpdates:     cfg.TopicOddsUpdates,
		BetPlaced:       cfg.TopicBetPlaced,
		BetSettled:      cfg.TopicBetSettled,
		PriceBetSettled: cfg.TopicPriceBetSettled,
		RewardCredited:  cfg.TopicRewardCredited,
	}, log.Named("publisher"))
	defer pub.Close()

	m := metrics.NewEngine(prometheus.DefaultRegisterer)

	// Recompensas: nonce + SSV
	verifier := reward.NewSSVVerifier(cfg.SSVKeysURL, cfg.SSVTimeout, cfg.SSVKeysTTL)
	verifier.MinRefetch = cfg.SSVMinRefetch
	rewards := reward.NewService(log.Named("reward"), st, verifier, pub, reward.Config{
		NonceTTL:         cfg.NonceTTL,
		MaxPending:       cfg.MaxPendingNonces,
		DefaultCoins:     cfg.DefaultRewardCoins,
		MaxCoins:         cfg.MaxRewardCoins,
		RequireSignature: cfg.SSVRequired,
	})
	rewards.OnCredited = m.RewardCredited
	rewards.OnReplay = m.RewardReplayed
	rewards.OnRejected = func(c domain.Code) { m.RewardRejected(string(c)) }

	// Apostas
	costs, err := bets.ParseCostTable(cfg.PriceBetCosts)
	if err != nil {
		log.Fatal("price bet costs", zap.Error(err))
	}
	prices := pricefeed.New(cfg.PriceFeedURL, cfg.PriceFeedJSONPath, cfg.PriceFeedTimeout)
	betSvc := bets.NewService(log.Named("bets"), st, prices, pub, bets.Config{
		Odds:          odds.Config{BaseOdds: cfg.BaseOdds, RiskMargin: cfg.RiskMargin, MinOdds: cfg.MinOdds, MaxOdds: cfg.MaxOdds},
		PriceBetPrize: cfg.PriceBetPrize,
		Costs:         costs,
	})

	// Stream de odds: Redis Pub/Sub -> hub websocket
	hub := ws.NewHub(log.Named("ws"), ws.AllowOrigin(cfg.AllowedOrigin))
	ws.StartRedisSubscriber(ctx, redisClient, cfg.RedisOddsChannel, hub, log.Named("ws"))

	api := httpapi.NewServer(log.Named("http"), httpapi.Deps{
		Rewards: rewards,
		Bets:    betSvc,
		Zones:   zones.NewManager(log.Named("zones"), st),
		Odds:    odds.NewRedisCache(redisClient, cfg.OddsCacheTTL),
		WS:      hub,
	}, httpapi.Config{RateLimitRPS: cfg.RateLimitRPS, RateLimitBurst: cfg.RateLimitBurst})

	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: httpapi.ReadHeaderTimeout,
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, prometheus.DefaultGatherer, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}, log)

	go func() {
		log.Info("wager-api listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
