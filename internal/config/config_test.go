package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "kafka", cfg.Broker)
	assert.Equal(t, "orders_exchange", cfg.Topology.Orders.Exchange)
	assert.Equal(t, "low_stock_warning", cfg.Topology.LowStockWarning.RoutingKey)
	assert.Equal(t, cfg.Topology.Restocking.Queue, cfg.Topology.LowStockWarning.Queue)
	assert.Equal(t, time.Second, cfg.Processor.SimulatedWork)
	require.Len(t, cfg.Inventory.Seed, 5)
	assert.Equal(t, "LAPTOP001", cfg.Inventory.Seed[0].ID)
	assert.Equal(t, "1299.99", cfg.Inventory.Seed[0].Price.String())
	assert.Equal(t, 10, cfg.Inventory.Seed[0].ReorderLevel)
}

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, RouteConfig{Exchange: "orders_exchange", RoutingKey: "orders", Queue: "orders_queue"}, cfg.Topology.Orders)
	assert.Equal(t, RouteConfig{Exchange: "processed_orders_exchange", RoutingKey: "processed_orders", Queue: "processed_orders_queue"}, cfg.Topology.ProcessedOrders)
	assert.Equal(t, RouteConfig{Exchange: "restocking_exchange", RoutingKey: "low_stock_warning", Queue: "restocking_queue"}, cfg.Topology.LowStockWarning)
	assert.Equal(t, 5, cfg.Inventory.LowStockThreshold)
	assert.Equal(t, 100, cfg.Relay.BatchSize)
}

func TestParseEnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("BROKER", "memory")

	cfg, err := Parse([]byte("postgres:\n  dsn: host=db\n"))
	require.NoError(t, err)

	assert.Equal(t, "host=db password=secret", cfg.Postgres.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
	assert.Equal(t, "memory", cfg.Broker)
}

func TestPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultPath, Path())
	t.Setenv("CONFIG_PATH", "/etc/orders.yaml")
	assert.Equal(t, "/etc/orders.yaml", Path())
}
