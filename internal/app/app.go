// Package app 组装所有进程共用的依赖：数据库、outbox、各业务 service
package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"loyaltyhub/internal/pkg/auth"
	"loyaltyhub/internal/pkg/bootstrap"
	"loyaltyhub/internal/pkg/database"
	"loyaltyhub/internal/pkg/httpclient"
	"loyaltyhub/internal/pkg/live"
	"loyaltyhub/internal/pkg/logger"
	"loyaltyhub/internal/pkg/mq"
	"loyaltyhub/internal/pkg/redis"
	accountapp "loyaltyhub/internal/service/account/application"
	accountinfra "loyaltyhub/internal/service/account/infrastructure"
	auditapp "loyaltyhub/internal/service/audit/application"
	auditinfra "loyaltyhub/internal/service/audit/infrastructure"
	campaignapp "loyaltyhub/internal/service/campaign/application"
	campaigninfra "loyaltyhub/internal/service/campaign/infrastructure"
	customerapp "loyaltyhub/internal/service/customer/application"
	customerinfra "loyaltyhub/internal/service/customer/infrastructure"
	gateapp "loyaltyhub/internal/service/gate/application"
	gateinfra "loyaltyhub/internal/service/gate/infrastructure"
	loyaltyapp "loyaltyhub/internal/service/loyalty/application"
	loyaltyinfra "loyaltyhub/internal/service/loyalty/infrastructure"
	notificationapp "loyaltyhub/internal/service/notification/application"
	notificationdomain "loyaltyhub/internal/service/notification/domain"
	notificationinfra "loyaltyhub/internal/service/notification/infrastructure"
	reportapp "loyaltyhub/internal/service/report/application"
	reportdomain "loyaltyhub/internal/service/report/domain"
	reportinfra "loyaltyhub/internal/service/report/infrastructure"
	stampsapp "loyaltyhub/internal/service/stamps/application"
	stampsinfra "loyaltyhub/internal/service/stamps/infrastructure"
	"loyaltyhub/internal/tenant"
)

const (
	ModeSync  = "sync"
	ModeKafka = "kafka"
)

// Options 不同进程需要的可选组件
type Options struct {
	// Redis 为 false 时扫码申请只靠数据库判重
	Redis bool
	// Live 员工端 websocket 推送
	Live bool
}

// Container 进程内的全部 service
type Container struct {
	Config *bootstrap.Config
	DB     *gorm.DB
	Tracer trace.Tracer
	Tokens *auth.TokenIssuer
	Hub    *live.Hub

	Tenants  *tenant.GormStore
	Resolver *tenant.Resolver

	Gate      *gateapp.GateService
	Audit     *auditapp.Recorder
	Customers *customerapp.CustomerService
	Accounts  *accountapp.AccountService
	Stamps    *stampsapp.StampService
	Loyalty   *loyaltyapp.LoyaltyService
	Campaigns *campaignapp.CampaignService
	Reports   *reportapp.ReportService

	Delivery   *notificationapp.Delivery
	Dispatcher *notificationapp.Dispatcher
	Sweeper    *notificationapp.Sweeper

	closers []func(ctx context.Context) error
}

// Build 打开 MySQL 并组装所有 service
func Build(ctx context.Context, cfg *bootstrap.Config, serviceName string, opts Options) (*Container, error) {
	db, err := database.OpenMySQL(ctx, cfg.Infra.MySQL.DSN, database.PoolOptions{
		MaxOpenConns:    cfg.Infra.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.Infra.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.Infra.MySQL.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	c, err := Assemble(ctx, db, cfg, otel.Tracer(serviceName), opts)
	if err != nil {
		_ = database.Close(db)
		return nil, err
	}
	c.closers = append([]func(context.Context) error{func(context.Context) error { return database.Close(db) }}, c.closers...)
	return c, nil
}

// Assemble 在已有连接上组装，测试直接传入 sqlite
func Assemble(ctx context.Context, db *gorm.DB, cfg *bootstrap.Config, tracer trace.Tracer, opts Options) (*Container, error) {
	c := &Container{Config: cfg, DB: db, Tracer: tracer}
	log := logger.L()

	if cfg.Auth.JWTSecret != "" {
		tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return nil, err
		}
		c.Tokens = tokens
	}

	c.Tenants = tenant.NewGormStore(db)
	c.Resolver = tenant.NewResolver(c.Tenants)

	c.Gate = gateapp.NewGateService(gateinfra.NewGormRepository(db), gateinfra.NewTableUsageCounter(db), tracer)
	c.Audit = auditapp.NewRecorder(auditinfra.NewGormRepository(db), tracer)
	c.Customers = customerapp.NewCustomerService(customerinfra.NewGormRepository(db), c.Gate, c.Audit, tracer)
	c.Accounts = accountapp.NewAccountService(accountinfra.NewGormRepository(db), c.Gate, c.Tokens, tracer)

	// 通知：渠道 -> 投递 -> outbox
	configs := notificationinfra.NewGormConfigRepository(db)
	cards := notificationinfra.NewGormCardStore(db)
	client := httpclient.NewClient(tracer)
	c.Delivery = notificationapp.NewDelivery(configs, cards, tracer, cfg.Notification.SendTimeout,
		notificationinfra.NewChatSender(client),
		notificationinfra.NewEmailSender(client, notificationinfra.EmailOptions{
			APIURL: cfg.Notification.Email.APIURL,
			APIKey: cfg.Notification.Email.APIKey,
			From:   cfg.Notification.Email.From,
		}),
	)
	outbox, err := c.outbox(cfg)
	if err != nil {
		return nil, err
	}
	c.Dispatcher = notificationapp.NewDispatcher(configs, cards, outbox, tracer)
	c.Sweeper = notificationapp.NewSweeper(configs, c.Tenants, cards, cards, outbox, tracer, cfg.Sweep.Concurrency)

	stampOpts := stampsapp.Options{UndoWindow: cfg.Stamps.UndoWindow}
	if opts.Redis && len(cfg.Infra.Redis.Addrs) > 0 {
		guard, err := c.requestGuard(ctx, cfg)
		if err != nil {
			// 申请判重回退到数据库
			log.Warn().Err(err).Msg("redis unavailable, stamp request guard disabled")
		} else {
			stampOpts.Guard = guard
		}
	}
	if opts.Live {
		c.Hub = live.NewHub()
		stampOpts.Feed = c.Hub
	}
	c.Stamps = stampsapp.NewStampService(stampsinfra.NewGormStore(db), c.Dispatcher, c.Audit, c.Customers, tracer, stampOpts)

	c.Loyalty = loyaltyapp.NewLoyaltyService(loyaltyinfra.NewGormStore(db), c.Audit, tracer)
	c.Campaigns = campaignapp.NewCampaignService(campaigninfra.NewGormStore(db), c.Gate, outbox, c.Audit, tracer)

	var uploader reportdomain.Uploader
	if cfg.Infra.S3.Bucket != "" {
		s3u, err := reportinfra.NewS3Uploader(ctx, reportinfra.S3Options{
			Region:    cfg.Infra.S3.Region,
			Bucket:    cfg.Infra.S3.Bucket,
			AccessKey: cfg.Infra.S3.AccessKey,
			SecretKey: cfg.Infra.S3.SecretKey,
			Endpoint:  cfg.Infra.S3.Endpoint,
			Prefix:    cfg.Infra.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		uploader = s3u
	}
	c.Reports = reportapp.NewReportService(reportinfra.NewGormStore(db), uploader, tracer)

	return c, nil
}

// outbox sync 模式直接投递，kafka 模式写入 topic 由 notification-worker 消费
func (c *Container) outbox(cfg *bootstrap.Config) (notificationdomain.Outbox, error) {
	switch cfg.Notification.Mode {
	case "", ModeSync:
		return c.Delivery, nil
	case ModeKafka:
		w := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic)
		c.closers = append(c.closers, func(context.Context) error { return w.Close() })
		return notificationinfra.NewKafkaOutbox(w), nil
	default:
		return nil, errors.Errorf("unknown notification mode %q", cfg.Notification.Mode)
	}
}

func (c *Container) requestGuard(ctx context.Context, cfg *bootstrap.Config) (*stampsinfra.RedisRequestGuard, error) {
	rc, err := redis.NewClient(ctx, cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
	if err != nil {
		return nil, err
	}
	guard, err := stampsinfra.NewRedisRequestGuard(ctx, rc)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	c.closers = append(c.closers, func(context.Context) error { return rc.Close() })
	return guard, nil
}

// DeadLetterWriter worker 的死信 topic
func (c *Container) DeadLetterWriter() *kafka.Writer {
	w := mq.NewKafkaWriter(c.Config.Infra.Kafka.Brokers, c.Config.Infra.Kafka.DLTTopic)
	c.closers = append(c.closers, func(context.Context) error { return w.Close() })
	return w
}

// Closers 按创建顺序返回，调用方逆序执行
func (c *Container) Closers() []func(ctx context.Context) error {
	return c.closers
}

// Close CLI 等短生命周期进程使用
func (c *Container) Close(ctx context.Context) {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			logger.L().Error().Err(err).Msg("error closing resource")
		}
	}
}
