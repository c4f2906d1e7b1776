// Package cassandra persists the branching core's aggregates: branch rows,
// version intervals, merge history, effects and their execution records, the
// encounter/event shells, campaign membership and the audit log. Repositories
// follow a read-through Redis cache where a row is hot, and the batch commit
// methods execute as Cassandra logged batches so a commit is all or nothing.
package cassandra

import (
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

type Config struct {
	ClusterHosts []string
	// Keyspace to be used when doing I/O to cassandra.
	Keyspace string
	// Consistency is the session default.
	Consistency       gocql.Consistency
	ConnectionTimeout time.Duration
	Authenticator     gocql.Authenticator
	// Defaults to simple strategy & replication factor of 1.
	ReplicationClause string
	// ConsistencyBook allows overriding per-API consistency levels.
	ConsistencyBook ConsistencyBook
}

// ConsistencyBook enumerates per-API consistency levels used by this package.
type ConsistencyBook struct {
	BranchGet    gocql.Consistency
	BranchAdd    gocql.Consistency
	BranchRemove gocql.Consistency

	VersionGet    gocql.Consistency
	VersionCommit gocql.Consistency
	VersionRemove gocql.Consistency

	EffectGet    gocql.Consistency
	EffectAdd    gocql.Consistency
	ExecutionAdd gocql.Consistency

	ShellGet    gocql.Consistency
	ShellUpdate gocql.Consistency

	MembershipGet gocql.Consistency
	AuditAdd      gocql.Consistency
}

// ConfigFromProcess derives the cluster config from the process configuration.
func ConfigFromProcess(cfg campaign.Config) Config {
	return Config{
		ClusterHosts: cfg.CassandraHosts,
		Keyspace:     cfg.CassandraKeyspace,
		Consistency:  gocql.Quorum,
	}
}

// Connection wraps a Cassandra session and its configuration.
type Connection struct {
	Session *gocql.Session
	Config
}

var connection *Connection
var mux sync.Mutex

// IsConnectionInstantiated reports whether a global Connection has been created.
func IsConnectionInstantiated() bool {
	return connection != nil
}

// GetConnection will create(& return) a new Connection to Cassandra if there is not one yet,
// otherwise, will just return existing singleton connection.
func GetConnection(config Config) (*Connection, error) {
	if connection != nil {
		return connection, nil
	}
	mux.Lock()
	defer mux.Unlock()

	if connection != nil {
		return connection, nil
	}
	if config.Keyspace == "" {
		// default keyspace
		config.Keyspace = "campaign"
	}
	cluster := gocql.NewCluster(config.ClusterHosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = config.Consistency
	if config.ReplicationClause == "" {
		config.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	if config.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = config.ConnectionTimeout
	}
	if config.Authenticator != nil {
		cluster.Authenticator = config.Authenticator
		// Clear the authenticator just to be safer, we don't need to keep it hanging around.
		config.Authenticator = nil
	}
	var c = Connection{
		Config: config,
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	if err := s.Query(fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s",
		config.Keyspace, config.ReplicationClause)).Exec(); err != nil {
		return nil, err
	}
	for _, ddl := range tableDDL(config.Keyspace) {
		if err := s.Query(ddl).Exec(); err != nil {
			return nil, err
		}
	}

	c.Session = s
	connection = &c
	return connection, nil
}

// tableDDL returns the schema statements, idempotent via IF NOT EXISTS.
func tableDDL(keyspace string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.branch (id UUID PRIMARY KEY, campaign_id UUID, name text, description text, parent_id UUID, diverged_at timestamp, created_at timestamp, created_by text);", keyspace),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS branch_campaign_idx ON %s.branch (campaign_id);", keyspace),

		// Versions partition by entity+branch so interval resolution reads one
		// partition, newest first. The id trails the clustering key so the
		// equal-validFrom replace path keeps the closed row and the replacement
		// as distinct rows inside one logged batch.
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.version (entity_type text, entity_id text, branch_id UUID, valid_from timestamp, id UUID, valid_to timestamp, payload blob, created_at timestamp, created_by text, parent_version_id UUID, PRIMARY KEY ((entity_type, entity_id, branch_id), valid_from, id)) WITH CLUSTERING ORDER BY (valid_from DESC, id ASC);", keyspace),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS version_id_idx ON %s.version (id);", keyspace),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS version_branch_idx ON %s.version (branch_id);", keyspace),

		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.merge_history (target_branch_id UUID, merged_at timestamp, id UUID, source_branch_id UUID, common_ancestor_id UUID, merged_by text, world_time timestamp, conflicts_count int, entities_merged int, PRIMARY KEY ((target_branch_id), merged_at, id));", keyspace),

		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.effect (entity_type text, entity_id text, created_at timestamp, id UUID, name text, effect_type text, payload blob, timing text, priority int, condition text, is_active boolean, created_by text, PRIMARY KEY ((entity_type, entity_id), created_at, id));", keyspace),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS effect_id_idx ON %s.effect (id);", keyspace),

		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.effect_execution (effect_id UUID, executed_at timestamp, id UUID, entity_type text, entity_id text, executed_by text, context blob, success boolean, skipped boolean, affected_fields list<text>, error text, PRIMARY KEY ((effect_id), executed_at, id));", keyspace),

		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.encounter (id text PRIMARY KEY, campaign_id UUID, name text, is_resolved boolean, resolved_at timestamp);", keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.event (id text PRIMARY KEY, campaign_id UUID, name text, is_completed boolean, occurred_at timestamp);", keyspace),

		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.campaign_membership (campaign_id UUID, user_id text, role text, PRIMARY KEY ((campaign_id), user_id));", keyspace),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.audit (entity_type text, entity_id text, at timeuuid, user text, action text, before blob, after blob, PRIMARY KEY ((entity_type, entity_id), at));", keyspace),
	}
}

// Close the singleton connection if open.
func CloseConnection() {
	if connection != nil {
		mux.Lock()
		defer mux.Unlock()
		if connection == nil {
			return
		}
		connection.Session.Close()
		connection = nil
	}
}
