// 文件: cmd/arena/main.go
// 竞技场模拟进程
//
//	arena -config arena.toml
//
// 未配置数据库时纯内存运行；配置 Redis 时读路径走缓存；
// 事件流可转发到 Kafka 或 NATS

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"arena.com/pkg/agent"
	"arena.com/pkg/alert"
	"arena.com/pkg/config"
	"arena.com/pkg/feed"
	"arena.com/pkg/kafka"
	"arena.com/pkg/logx"
	"arena.com/pkg/nats"
	"arena.com/pkg/sim"
	"arena.com/pkg/store"
)

func main() {
	configPath := flag.String("config", "", "path to arena.toml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "arena:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logx.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	if err := agent.InitIDNode(cfg.Sim.NodeID); err != nil {
		return fmt.Errorf("init id node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := openRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	st, err := openStore(cfg, rdb, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var gate alert.Gate
	if rdb != nil {
		gate = alert.NewRedisGate(rdb)
	}

	pub, closePub, err := openPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePub()

	s, err := sim.New(cfg.SimulationConfig(), sim.Deps{
		Store:     st,
		Publisher: pub,
		AlertGate: gate,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Load(ctx); err != nil {
		return err
	}

	go logMarkets(ctx, s, logger)

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// 依赖装配
// =============================================================================

// openRedis 未配置或连接失败时返回 nil，缓存和跨进程预警去重随之关闭
func openRedis(ctx context.Context, cfg *config.Config, logger *zap.Logger) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		_ = rdb.Close()
		return nil
	}
	logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return rdb
}

func openStore(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (store.Store, error) {
	if cfg.Store.Driver == "" {
		logger.Info("no store configured, state is kept in memory")
		return store.Noop{}, nil
	}

	gs, err := store.Open(cfg.DBConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("store connected", zap.String("driver", cfg.Store.Driver))

	if rdb == nil {
		return gs, nil
	}
	return store.NewCachedStore(gs, rdb, cfg.Redis.TTL.Duration, logger), nil
}

func openPublisher(cfg *config.Config, logger *zap.Logger) (feed.Publisher, func(), error) {
	switch cfg.Events.Backend {
	case "kafka":
		p, err := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.Events.Brokers), logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("feed forwarded to kafka", zap.Strings("brokers", cfg.Events.Brokers), zap.String("topic", cfg.Events.Topic))
		closeFn := func() {
			_ = p.Close()
			st := p.Stats()
			logger.Info("kafka producer closed",
				zap.Int64("sent", st.SentCount), zap.Int64("errors", st.ErrorCount), zap.Int64("dropped", st.DroppedCount))
		}
		return feed.NewKafkaPublisher(p, cfg.Events.Topic), closeFn, nil
	case "nats":
		p, err := nats.NewPublisher(cfg.Events.NatsURL, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("feed forwarded to nats", zap.String("url", cfg.Events.NatsURL), zap.String("subject", cfg.Events.Subject))
		closeFn := func() {
			p.Close()
			st := p.Stats()
			logger.Info("nats publisher closed", zap.Int64("published", st.Published), zap.Int64("failed", st.Failed))
		}
		return feed.NewNATSPublisher(p, cfg.Events.Subject), closeFn, nil
	}
	return nil, func() {}, nil
}

// logMarkets 每 10 个 tick 打印一次行情
func logMarkets(ctx context.Context, s *sim.Simulation, logger *zap.Logger) {
	sub := s.SubscribeMarkets()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case snaps, ok := <-sub:
			if !ok {
				return
			}
			n++
			if n%10 != 0 {
				continue
			}
			for _, m := range snaps {
				logger.Info("market",
					zap.String("symbol", m.Symbol),
					zap.Float64("price", m.Price),
					zap.String("trend", m.Trend.String()),
					zap.Float64("long_staked", m.TotalLongStaked),
					zap.Float64("short_staked", m.TotalShortStaked))
			}
		}
	}
}
