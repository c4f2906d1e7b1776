package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/gocql/gocql"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
	"github.com/jakekausler/campaign-manager-sub010/redis"
)

// Membership answers are cached briefly; revoking access takes effect within
// the TTL.
const membershipCacheTTL = 5 * time.Minute

type membership struct {
	redisCache campaign.Cache
}

// NewMembership answers edit authorization from the campaign_membership table.
func NewMembership() campaign.Membership {
	return &membership{
		redisCache: redis.NewClient(),
	}
}

func (m *membership) formatKey(campaignID campaign.UUID, userID string) string {
	return "membership:" + campaignID.String() + ":" + userID
}

func (m *membership) CanEdit(ctx context.Context, user campaign.AuthenticatedUser, campaignID campaign.UUID) (bool, error) {
	if connection == nil {
		return false, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	var role string
	key := m.formatKey(campaignID, user.ID)
	if found, cached, err := m.redisCache.Get(ctx, key); err != nil {
		// Tolerate Redis cache failure.
		log.Warn(fmt.Sprintf("membership CanEdit (redis get) failed, details: %v", err))
	} else if found {
		return editableRole(cached), nil
	}

	selectStatement := fmt.Sprintf("SELECT role FROM %s.campaign_membership WHERE campaign_id = ? AND user_id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(campaignID), user.ID).WithContext(ctx)
	if connection.Config.ConsistencyBook.MembershipGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.MembershipGet)
	}
	iter := qry.Iter()
	found := iter.Scan(&role)
	if err := iter.Close(); err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := m.redisCache.Set(ctx, key, role, membershipCacheTTL); err != nil {
		log.Warn(fmt.Sprintf("membership CanEdit (redis set) failed, details: %v", err))
	}
	return editableRole(role), nil
}

func editableRole(role string) bool {
	switch role {
	case "owner", "gm", "editor":
		return true
	}
	return false
}

type audit struct{}

// NewAudit appends audit rows per entity.
func NewAudit() campaign.Audit {
	return &audit{}
}

func (a *audit) Log(ctx context.Context, entry campaign.AuditEntry) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	var before, after []byte
	var err error
	if entry.Before != nil {
		if before, err = encoding.DefaultMarshaler.Marshal(entry.Before); err != nil {
			return err
		}
	}
	if entry.After != nil {
		if after, err = encoding.DefaultMarshaler.Marshal(entry.After); err != nil {
			return err
		}
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.audit (entity_type, entity_id, at, user, action, before, after) VALUES(?,?,?,?,?,?,?);",
		connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, string(entry.EntityType), entry.EntityID, gocql.TimeUUID(),
		entry.User, entry.Action, before, after).WithContext(ctx)
	if connection.Config.ConsistencyBook.AuditAdd > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.AuditAdd)
	}
	return qry.Exec()
}
