package campaign

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the process-wide configuration, loaded once at startup.
type Config struct {
	// CacheDefaultTTL is the default expiration for cache entries.
	CacheDefaultTTL time.Duration `json:"cache_default_ttl"`
	// CacheMetricsEnabled toggles per-type cache statistics counters.
	CacheMetricsEnabled bool `json:"cache_metrics_enabled"`
	// CacheLoggingEnabled toggles per-operation cache logging (debug level).
	CacheLoggingEnabled bool `json:"cache_logging_enabled"`
	// CacheStatsTrackingEnabled toggles the stats tracker entirely.
	CacheStatsTrackingEnabled bool `json:"cache_stats_tracking_enabled"`
	// CacheStatsResetPeriod auto-resets stats for time-windowed reporting.
	// Zero disables auto-reset.
	CacheStatsResetPeriod time.Duration `json:"cache_stats_reset_period"`

	// RedisHost/RedisPort locate the Redis server.
	RedisHost     string `json:"redis_host"`
	RedisPort     int    `json:"redis_port"`
	RedisPassword string `json:"redis_password"`
	// RedisCacheDB is the logical database used for cache entries. Pub/sub
	// always uses database 0.
	RedisCacheDB int `json:"redis_cache_db"`

	// CassandraHosts lists contact points for the Cassandra cluster.
	CassandraHosts []string `json:"cassandra_hosts"`
	// CassandraKeyspace is the keyspace holding the campaign tables.
	CassandraKeyspace string `json:"cassandra_keyspace"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CacheDefaultTTL:           300 * time.Second,
		CacheMetricsEnabled:       true,
		CacheLoggingEnabled:       false,
		CacheStatsTrackingEnabled: true,
		CacheStatsResetPeriod:     0,
		RedisHost:                 "localhost",
		RedisPort:                 6379,
		RedisCacheDB:              1,
		CassandraHosts:            []string{"localhost:9042"},
		CassandraKeyspace:         "campaign",
	}
}

// LoadConfig reads the configuration from environment variables, falling back
// to DefaultConfig for anything unset.
func LoadConfig() Config {
	c := DefaultConfig()
	if v, ok := envInt("CACHE_DEFAULT_TTL"); ok {
		c.CacheDefaultTTL = time.Duration(v) * time.Second
	}
	if v, ok := envBool("CACHE_METRICS_ENABLED"); ok {
		c.CacheMetricsEnabled = v
	}
	if v, ok := envBool("CACHE_LOGGING_ENABLED"); ok {
		c.CacheLoggingEnabled = v
	}
	if v, ok := envBool("CACHE_STATS_TRACKING_ENABLED"); ok {
		c.CacheStatsTrackingEnabled = v
	}
	if v, ok := envInt("CACHE_STATS_RESET_PERIOD_MS"); ok {
		c.CacheStatsResetPeriod = time.Duration(v) * time.Millisecond
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.RedisHost = v
	}
	if v, ok := envInt("REDIS_PORT"); ok {
		c.RedisPort = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v, ok := envInt("REDIS_CACHE_DB"); ok {
		c.RedisCacheDB = v
	}
	if v := os.Getenv("CASSANDRA_HOSTS"); v != "" {
		c.CassandraHosts = strings.Split(v, ",")
	}
	if v := os.Getenv("CASSANDRA_KEYSPACE"); v != "" {
		c.CassandraKeyspace = v
	}
	return c
}

// RedisAddress returns the host:port contact point.
func (c Config) RedisAddress() string {
	return c.RedisHost + ":" + strconv.Itoa(c.RedisPort)
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
