// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有进程共用的配置结构，对应 config.yaml
type Config struct {
	App          AppConfig          `yaml:"app"`
	Infra        InfraConfig        `yaml:"infra"`
	Auth         AuthConfig         `yaml:"auth"`
	Notification NotificationConfig `yaml:"notification"`
	Stamps       StampsConfig       `yaml:"stamps"`
	Sweep        SweepConfig        `yaml:"sweep"`
}

type AppConfig struct {
	Name     string `yaml:"name"`
	Env      string `yaml:"env"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`
}

// IsDevelopment 开发环境使用控制台日志并加载 .env
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "" || a.Env == "development"
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	S3        S3Config        `yaml:"s3"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"`
	NotificationTopic string   `yaml:"notification_topic"`
	DLTTopic          string   `yaml:"dlt_topic"`
	GroupID           string   `yaml:"group_id"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type NacosConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addrs     []string `yaml:"addrs"`
	Namespace string   `yaml:"namespace"`
	Group     string   `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type S3Config struct {
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`

	// Endpoint 非空时走兼容 S3 的对象存储（MinIO 等）
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type NotificationConfig struct {
	// Mode: sync 进程内直接发送；kafka 写入 outbox topic 由 worker 发送
	Mode        string        `yaml:"mode"`
	SendTimeout time.Duration `yaml:"send_timeout"`
	Email       EmailConfig   `yaml:"email"`
}

type EmailConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
	From   string `yaml:"from"`
}

type StampsConfig struct {
	UndoWindow time.Duration `yaml:"undo_window"`
}

// SweepConfig 生日 / 过期提醒的定时扫描
type SweepConfig struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	// BirthdayHour UTC 小时，守护进程每天在这个小时发送一次生日祝福
	BirthdayHour int `yaml:"birthday_hour"`
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置；未初始化时返回默认值
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	c := defaultConfig()
	return &c
}

// Init 加载配置：默认值 -> yaml 文件 -> 环境变量
// path 为空时读取 CONFIG_FILE，文件不存在不是错误
func Init(path string) (*Config, error) {
	if path == "" {
		path = getEnv("CONFIG_FILE", "config.yaml")
	}

	cfg := defaultConfig()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	if cfg.App.IsDevelopment() {
		// .env 只在开发环境加载，已存在的环境变量优先
		_ = godotenv.Load()
	}
	applyEnv(&cfg)

	current.Store(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		App: AppConfig{Name: "loyalty-service", Env: "development", Port: 8080, LogLevel: "info"},
		Infra: InfraConfig{
			MySQL: MySQLConfig{
				DSN:             "root:root@tcp(localhost:3306)/loyalty?charset=utf8mb4&parseTime=True&loc=UTC",
				MaxOpenConns:    50,
				MaxIdleConns:    10,
				ConnMaxLifetime: time.Hour,
			},
			Redis: RedisConfig{Addrs: []string{"localhost:6379"}},
			Kafka: KafkaConfig{
				Brokers:           []string{"localhost:9092"},
				NotificationTopic: "loyalty-notifications",
				DLTTopic:          "loyalty-notifications-dlt",
				GroupID:           "notification-worker-group",
			},
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces", SampleRatio: 1},
			Nacos:     NacosConfig{Addrs: []string{"localhost:8848"}, Group: "DEFAULT_GROUP"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
		},
		Auth:         AuthConfig{Issuer: "loyaltyhub", TokenTTL: 12 * time.Hour},
		Notification: NotificationConfig{Mode: "sync", SendTimeout: 10 * time.Second},
		Stamps:       StampsConfig{UndoWindow: 24 * time.Hour},
		Sweep:        SweepConfig{Interval: time.Hour, Concurrency: 4, BirthdayHour: 14},
	}
}

// applyEnv 环境变量覆盖 yaml 中的同名配置
func applyEnv(cfg *Config) {
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	if port, err := strconv.Atoi(getEnv("PORT", "")); err == nil {
		cfg.App.Port = port
	}

	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Redis.Addrs = getEnvList("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	cfg.Infra.Kafka.Brokers = getEnvList("KAFKA_BROKERS", cfg.Infra.Kafka.Brokers)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Infra.Nacos.Addrs = getEnvList("NACOS_SERVER_ADDRS", cfg.Infra.Nacos.Addrs)
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Infra.Nacos.Namespace)
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", cfg.Infra.Nacos.Group)
	if v := getEnv("NACOS_ENABLED", ""); v != "" {
		cfg.Infra.Nacos.Enabled = v == "true" || v == "1"
	}
	cfg.Infra.Zookeeper.Servers = getEnvList("ZOOKEEPER_SERVERS", cfg.Infra.Zookeeper.Servers)
	cfg.Infra.S3.Region = getEnv("S3_REGION", cfg.Infra.S3.Region)
	cfg.Infra.S3.Bucket = getEnv("S3_BUCKET", cfg.Infra.S3.Bucket)
	cfg.Infra.S3.AccessKey = getEnv("S3_ACCESS_KEY", cfg.Infra.S3.AccessKey)
	cfg.Infra.S3.SecretKey = getEnv("S3_SECRET_KEY", cfg.Infra.S3.SecretKey)
	cfg.Infra.S3.Endpoint = getEnv("S3_ENDPOINT", cfg.Infra.S3.Endpoint)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Notification.Mode = getEnv("NOTIFICATION_MODE", cfg.Notification.Mode)
	cfg.Notification.Email.APIURL = getEnv("EMAIL_API_URL", cfg.Notification.Email.APIURL)
	cfg.Notification.Email.APIKey = getEnv("EMAIL_API_KEY", cfg.Notification.Email.APIKey)
	cfg.Notification.Email.From = getEnv("EMAIL_FROM", cfg.Notification.Email.From)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
