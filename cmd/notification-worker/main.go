// cmd/notification-worker/main.go
package main

import (
	"context"
	"flag"

	"loyaltyhub/internal/app"
	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/mq"
	notificationif "loyaltyhub/internal/service/notification/interfaces"
)

const (
	serviceName = "notification-worker"
	dltGroupID  = "notification-dlt-logger"
)

// main 消费通知 outbox 主题并通过聊天 / 邮件渠道发送，失败的消息进入 DLT
func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	port := flag.Int("port", 8091, "health and metrics port")
	flag.Parse()

	cfg, err := bootstrap.Init(*configPath)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.IsDevelopment())

	// worker 自己就是投递端，不再写回 outbox
	workerCfg := *cfg
	workerCfg.Notification.Mode = app.ModeSync

	ctx := context.Background()
	c, err := app.Build(ctx, &workerCfg, serviceName, app.Options{})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to build services")
	}

	kafkaCfg := cfg.Infra.Kafka
	failures := mq.NewFailureHandler(c.DeadLetterWriter())
	consumer := notificationif.NewNotificationConsumer(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.NotificationTopic, kafkaCfg.GroupID),
		c.Delivery, failures, c.Tracer,
	)
	dlt := notificationif.NewDLTConsumer(mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.DLTTopic, dltGroupID))

	consumer.Start(ctx)
	dlt.Start(ctx)
	logger.L().Info().
		Str("topic", kafkaCfg.NotificationTopic).
		Str("dlt", kafkaCfg.DLTTopic).
		Msg("notification worker consuming")

	closers := append(c.Closers(), dlt.Stop, consumer.Stop)
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        *port,
		Closers:     closers,
	})
}
