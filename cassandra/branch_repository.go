package cassandra

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/gocql/gocql"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/redis"
)

// Branch rows are small and hot (every resolve walks the ancestry), so reads
// go through the Redis cache.
const branchCacheTTL = 15 * time.Minute

type branchRepository struct {
	redisCache campaign.Cache
}

// NewBranchRepository manages branch rows in the branch table with a Redis
// read-through cache.
func NewBranchRepository() campaign.BranchRepository {
	return &branchRepository{
		redisCache: redis.NewClient(),
	}
}

func (r *branchRepository) formatKey(id string) string {
	return "branch:" + id
}

func (r *branchRepository) Add(ctx context.Context, b campaign.Branch) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.branch (id, campaign_id, name, description, parent_id, diverged_at, created_at, created_by) VALUES(?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, gocql.UUID(b.ID), gocql.UUID(b.CampaignID), b.Name, b.Description,
		gocqlUUIDOrNil(b.ParentID), timeOrZero(b.DivergedAt), b.CreatedAt, b.CreatedBy).WithContext(ctx)
	if connection.Config.ConsistencyBook.BranchAdd > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.BranchAdd)
	}
	if err := qry.Exec(); err != nil {
		return err
	}
	// Tolerate Redis cache failure.
	if err := r.redisCache.SetStruct(ctx, r.formatKey(b.ID.String()), &b, branchCacheTTL); err != nil {
		log.Warn(fmt.Sprintf("branch Add (redis setstruct) failed, details: %v", err))
	}
	return nil
}

func (r *branchRepository) Get(ctx context.Context, id campaign.UUID) (campaign.Branch, bool, error) {
	if connection == nil {
		return campaign.Branch{}, false, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	var b campaign.Branch
	if found, err := r.redisCache.GetStruct(ctx, r.formatKey(id.String()), &b); err != nil {
		// Tolerate Redis cache failure.
		log.Warn(fmt.Sprintf("branch Get (redis getstruct) failed, details: %v", err))
	} else if found {
		return b, true, nil
	}

	selectStatement := fmt.Sprintf("SELECT id, campaign_id, name, description, parent_id, diverged_at, created_at, created_by FROM %s.branch WHERE id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(id)).WithContext(ctx)
	if connection.Config.ConsistencyBook.BranchGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.BranchGet)
	}
	iter := qry.Iter()
	b, found := scanBranch(iter)
	if err := iter.Close(); err != nil {
		return campaign.Branch{}, false, err
	}
	if !found {
		return campaign.Branch{}, false, nil
	}
	if err := r.redisCache.SetStruct(ctx, r.formatKey(b.ID.String()), &b, branchCacheTTL); err != nil {
		log.Warn(fmt.Sprintf("branch Get (redis setstruct) failed, details: %v", err))
	}
	return b, true, nil
}

func (r *branchRepository) GetByName(ctx context.Context, campaignID campaign.UUID, name string) (campaign.Branch, bool, error) {
	branches, err := r.ListByCampaign(ctx, campaignID)
	if err != nil {
		return campaign.Branch{}, false, err
	}
	for _, b := range branches {
		if b.Name == name {
			return b, true, nil
		}
	}
	return campaign.Branch{}, false, nil
}

func (r *branchRepository) ListByCampaign(ctx context.Context, campaignID campaign.UUID) ([]campaign.Branch, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT id, campaign_id, name, description, parent_id, diverged_at, created_at, created_by FROM %s.branch WHERE campaign_id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(campaignID)).WithContext(ctx)
	if connection.Config.ConsistencyBook.BranchGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.BranchGet)
	}
	iter := qry.Iter()
	var branches []campaign.Branch
	for {
		b, ok := scanBranch(iter)
		if !ok {
			break
		}
		branches = append(branches, b)
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (r *branchRepository) Remove(ctx context.Context, id campaign.UUID) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	deleteStatement := fmt.Sprintf("DELETE FROM %s.branch WHERE id = ?;", connection.Config.Keyspace)
	qry := connection.Session.Query(deleteStatement, gocql.UUID(id)).WithContext(ctx)
	if connection.Config.ConsistencyBook.BranchRemove > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.BranchRemove)
	}
	// Flush the cached row whether or not the delete succeeds.
	if _, err := r.redisCache.Delete(ctx, []string{r.formatKey(id.String())}); err != nil {
		log.Warn(fmt.Sprintf("branch Remove (redis delete) failed, details: %v", err))
	}
	return qry.Exec()
}

func scanBranch(iter *gocql.Iter) (campaign.Branch, bool) {
	var b campaign.Branch
	var id, campaignID, parentID gocql.UUID
	var divergedAt time.Time
	if !iter.Scan(&id, &campaignID, &b.Name, &b.Description, &parentID, &divergedAt, &b.CreatedAt, &b.CreatedBy) {
		return campaign.Branch{}, false
	}
	b.ID = campaign.UUID(id)
	b.CampaignID = campaign.UUID(campaignID)
	b.ParentID = uuidPtrOrNil(parentID)
	b.DivergedAt = timePtrOrNil(divergedAt)
	return b, true
}

// Null columns scan as zero values; zero round-trips back to null on write.
func gocqlUUIDOrNil(id *campaign.UUID) gocql.UUID {
	if id == nil {
		return gocql.UUID{}
	}
	return gocql.UUID(*id)
}

func uuidPtrOrNil(id gocql.UUID) *campaign.UUID {
	u := campaign.UUID(id)
	if u.IsNil() {
		return nil
	}
	return &u
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func timePtrOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
