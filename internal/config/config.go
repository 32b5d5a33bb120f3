package config

import (
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is not set.
const DefaultPath = "internal/config/config.yaml"

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Broker    string          `yaml:"broker"`
	Topology  TopologyConfig  `yaml:"topology"`
	Inventory InventoryConfig `yaml:"inventory"`
	Processor ProcessorConfig `yaml:"processor"`
	Restocker RestockerConfig `yaml:"restocker"`
	Relay     RelayConfig     `yaml:"relay"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"client_id"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// RouteConfig names where a class of events goes: the exchange it is published
// to, the routing key it carries and the queue that consumes it.
type RouteConfig struct {
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	Queue      string `yaml:"queue"`
}

type TopologyConfig struct {
	Orders          RouteConfig `yaml:"orders"`
	ProcessedOrders RouteConfig `yaml:"processed_orders"`
	Restocking      RouteConfig `yaml:"restocking"`
	LowStockWarning RouteConfig `yaml:"low_stock_warning"`
}

type ProductSeed struct {
	ID           string          `yaml:"id"`
	Name         string          `yaml:"name"`
	Description  string          `yaml:"description"`
	Price        decimal.Decimal `yaml:"price"`
	Quantity     int             `yaml:"quantity"`
	ReorderLevel int             `yaml:"reorder_level"`
}

type InventoryConfig struct {
	LowStockThreshold int           `yaml:"low_stock_threshold"`
	CancelOnShortage  bool          `yaml:"cancel_on_shortage"`
	Seed              []ProductSeed `yaml:"seed"`
}

type ProcessorConfig struct {
	SimulatedWork time.Duration `yaml:"simulated_work"`
}

type RestockerConfig struct {
	NotifyDelay time.Duration `yaml:"notify_delay"`
	OrderDelay  time.Duration `yaml:"order_delay"`
	LeadTime    time.Duration `yaml:"lead_time"`
}

type RelayConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
	Grace     time.Duration `yaml:"grace"`
}

type CacheConfig struct {
	OrderTTL  time.Duration `yaml:"order_ttl"`
	DedupeTTL time.Duration `yaml:"dedupe_ttl"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	URLPath     string `yaml:"url_path"`
	LogsPath    string `yaml:"logs_path"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Path returns CONFIG_PATH or DefaultPath.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads yaml file, then applies env overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if b := os.Getenv("BROKER"); b != "" {
		cfg.Broker = b
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Broker == "" {
		c.Broker = "kafka"
	}
	if c.Kafka.RetryBackoff == 0 {
		c.Kafka.RetryBackoff = time.Second
	}

	t := &c.Topology
	defaultRoute(&t.Orders, RouteConfig{Exchange: "orders_exchange", RoutingKey: "orders", Queue: "orders_queue"})
	defaultRoute(&t.ProcessedOrders, RouteConfig{Exchange: "processed_orders_exchange", RoutingKey: "processed_orders", Queue: "processed_orders_queue"})
	defaultRoute(&t.Restocking, RouteConfig{Exchange: "restocking_exchange", RoutingKey: "restocking", Queue: "restocking_queue"})
	defaultRoute(&t.LowStockWarning, RouteConfig{Exchange: t.Restocking.Exchange, RoutingKey: "low_stock_warning", Queue: t.Restocking.Queue})

	if c.Inventory.LowStockThreshold == 0 {
		c.Inventory.LowStockThreshold = 5
	}
	if c.Processor.SimulatedWork == 0 {
		c.Processor.SimulatedWork = time.Second
	}
	if c.Restocker.NotifyDelay == 0 {
		c.Restocker.NotifyDelay = 100 * time.Millisecond
	}
	if c.Restocker.OrderDelay == 0 {
		c.Restocker.OrderDelay = 500 * time.Millisecond
	}
	if c.Restocker.LeadTime == 0 {
		c.Restocker.LeadTime = 72 * time.Hour
	}
	if c.Relay.Interval == 0 {
		c.Relay.Interval = time.Second
	}
	if c.Relay.BatchSize == 0 {
		c.Relay.BatchSize = 100
	}
	if c.Relay.Grace == 0 {
		c.Relay.Grace = 5 * time.Second
	}
	if c.Cache.OrderTTL == 0 {
		c.Cache.OrderTTL = 5 * time.Minute
	}
	if c.Cache.DedupeTTL == 0 {
		c.Cache.DedupeTTL = 24 * time.Hour
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
}

func defaultRoute(r *RouteConfig, def RouteConfig) {
	if r.Exchange == "" {
		r.Exchange = def.Exchange
	}
	if r.RoutingKey == "" {
		r.RoutingKey = def.RoutingKey
	}
	if r.Queue == "" {
		r.Queue = def.Queue
	}
}
