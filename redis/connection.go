package redis

import (
	"crypto/tls"
	"sync"

	"github.com/redis/go-redis/v9"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// DefaultKeyPrefix namespaces all cache entries in the shared Redis database.
const DefaultKeyPrefix = "cache:"

// Redis configurable options.
type Options struct {
	// Redis server(cluster) address.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// CacheDB is the logical database for cache entries.
	CacheDB int
	// KeyPrefix namespaces all cache keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// TLS config.
	TLSConfig *tls.Config
}

// OptionsFromConfig maps the process configuration to connection options.
// Pub/sub always runs on database 0, the cache on the configured database.
func OptionsFromConfig(c campaign.Config) Options {
	return Options{
		Address:   c.RedisAddress(),
		Password:  c.RedisPassword,
		CacheDB:   c.RedisCacheDB,
		KeyPrefix: DefaultKeyPrefix,
	}
}

// Connection contains the Redis client connections and the Options used to
// connect. Client talks to the cache database; PubSubClient to database 0.
type Connection struct {
	Client       *redis.Client
	PubSubClient *redis.Client
	Options      Options
}

// DefaultOptions.
func DefaultOptions() Options {
	return Options{
		Address:   "localhost:6379",
		Password:  "", // no password set
		CacheDB:   1,
		KeyPrefix: DefaultKeyPrefix,
	}
}

var connection *Connection
var mux sync.Mutex

// Returns true if connection instance is valid.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// Creates a singleton connection and returns it for every call.
func OpenConnection(options Options) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}

	connection = openConnection(options)
	return connection, nil
}

// Close the singleton connection if open.
func CloseConnection() error {
	if connection == nil {
		return nil
	}
	mux.Lock()
	defer mux.Unlock()
	if connection == nil {
		return nil
	}
	err := closeConnection(connection)
	connection = nil
	return err
}

func openConnection(options Options) *Connection {
	if options.KeyPrefix == "" {
		options.KeyPrefix = DefaultKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		DB:        options.CacheDB})
	pubsub := redis.NewClient(&redis.Options{
		TLSConfig: options.TLSConfig,
		Addr:      options.Address,
		Password:  options.Password,
		// Pub/sub traffic is kept on the default database.
		DB: 0})

	c := Connection{
		Client:       client,
		PubSubClient: pubsub,
		Options:      options,
	}
	return &c
}

func closeConnection(c *Connection) error {
	if c == nil || c.Client == nil {
		return nil
	}
	err := c.Client.Close()
	if c.PubSubClient != nil {
		if err2 := c.PubSubClient.Close(); err == nil {
			err = err2
		}
		c.PubSubClient = nil
	}
	c.Client = nil
	return err
}
