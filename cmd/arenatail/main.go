// 文件: cmd/arenatail/main.go
// 订阅竞技场事件流并打印
//
//	arenatail -config arena.toml [-type liquidation] [-queue tail]
//
// events.backend = nats 时订阅 <subject>.> (指定 -queue 时同组进程分摊事件)；
// kafka 时加入消费者组

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"arena.com/pkg/config"
	"arena.com/pkg/feed"
	"arena.com/pkg/kafka"
	"arena.com/pkg/logx"
	"arena.com/pkg/nats"
)

func main() {
	configPath := flag.String("config", "", "path to arena.toml")
	typ := flag.String("type", "", "only print entries of this type (e.g. liquidation)")
	group := flag.String("group", "", "kafka consumer group (default: random)")
	queue := flag.String("queue", "", "nats queue group; tails in the same group split the stream")
	flag.Parse()

	if err := run(*configPath, *typ, *group, *queue); err != nil {
		fmt.Fprintln(os.Stderr, "arenatail:", err)
		os.Exit(1)
	}
}

func run(configPath, typ, group, queue string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logx.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	filter := feed.EntryType(strings.ToUpper(typ))
	emit := func(data []byte) error {
		var e feed.Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		if filter != "" && e.Type != filter {
			return nil
		}
		fmt.Println(format(e))
		return nil
	}

	switch cfg.Events.Backend {
	case "nats":
		sub, err := nats.NewSubscriber(nats.SubscriberConfig{URL: cfg.Events.NatsURL, Queue: queue},
			func(_ string, data []byte) error { return emit(data) }, logger)
		if err != nil {
			return err
		}
		defer sub.Close()

		subject := strings.TrimSuffix(cfg.Events.Subject, ".") + ".>"
		if filter != "" {
			subject = feed.Subject(strings.TrimSuffix(cfg.Events.Subject, "."), filter)
		}
		if err := sub.Subscribe(subject); err != nil {
			return err
		}
		logger.Info("tailing nats", zap.String("subject", subject), zap.String("queue", queue))
		<-ctx.Done()
		st := sub.Stats()
		logger.Info("tail stopped", zap.Int64("received", st.Received), zap.Int64("failed", st.Failed))
		return nil

	case "kafka":
		if group == "" {
			group = "arenatail-" + uuid.NewString()
		}
		c, err := kafka.NewConsumer(kafka.DefaultConsumerConfig(cfg.Events.Brokers, group, cfg.Events.Topic),
			func(_ string, _, value []byte) error { return emit(value) }, logger)
		if err != nil {
			return err
		}
		logger.Info("tailing kafka", zap.String("topic", cfg.Events.Topic), zap.String("group", group))
		return c.Run(ctx)
	}
	return fmt.Errorf("events.backend %q cannot be tailed", cfg.Events.Backend)
}

func format(e feed.Entry) string {
	line := fmt.Sprintf("%s %-11s %s", e.At.Format("15:04:05"), e.Type, e.Message)
	if e.Amount != nil {
		line += fmt.Sprintf(" (%+.2f)", *e.Amount)
	}
	return line
}
