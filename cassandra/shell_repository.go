package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	campaign "github.com/jakekausler/campaign-manager-sub010"
)

// Encounter and event shells hold the flags the resolution workflow flips;
// their time-varying state lives in version payloads.

type encounterRepository struct{}

// NewEncounterRepository manages encounter shells.
func NewEncounterRepository() campaign.EncounterRepository {
	return &encounterRepository{}
}

func (r *encounterRepository) Get(ctx context.Context, id string) (campaign.Encounter, bool, error) {
	if connection == nil {
		return campaign.Encounter{}, false, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT id, campaign_id, name, is_resolved, resolved_at FROM %s.encounter WHERE id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, id).WithContext(ctx)
	if connection.Config.ConsistencyBook.ShellGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.ShellGet)
	}
	iter := qry.Iter()
	var e campaign.Encounter
	var campaignID gocql.UUID
	var resolvedAt time.Time
	found := iter.Scan(&e.ID, &campaignID, &e.Name, &e.IsResolved, &resolvedAt)
	if err := iter.Close(); err != nil {
		return campaign.Encounter{}, false, err
	}
	if !found {
		return campaign.Encounter{}, false, nil
	}
	e.CampaignID = campaign.UUID(campaignID)
	e.ResolvedAt = timePtrOrNil(resolvedAt)
	return e, true, nil
}

func (r *encounterRepository) Update(ctx context.Context, e campaign.Encounter) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.encounter (id, campaign_id, name, is_resolved, resolved_at) VALUES(?,?,?,?,?);",
		connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, e.ID, gocql.UUID(e.CampaignID), e.Name, e.IsResolved, timeOrZero(e.ResolvedAt)).WithContext(ctx)
	if connection.Config.ConsistencyBook.ShellUpdate > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.ShellUpdate)
	}
	return qry.Exec()
}

type eventRepository struct{}

// NewEventRepository manages event shells.
func NewEventRepository() campaign.EventRepository {
	return &eventRepository{}
}

func (r *eventRepository) Get(ctx context.Context, id string) (campaign.Event, bool, error) {
	if connection == nil {
		return campaign.Event{}, false, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT id, campaign_id, name, is_completed, occurred_at FROM %s.event WHERE id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, id).WithContext(ctx)
	if connection.Config.ConsistencyBook.ShellGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.ShellGet)
	}
	iter := qry.Iter()
	var e campaign.Event
	var campaignID gocql.UUID
	var occurredAt time.Time
	found := iter.Scan(&e.ID, &campaignID, &e.Name, &e.IsCompleted, &occurredAt)
	if err := iter.Close(); err != nil {
		return campaign.Event{}, false, err
	}
	if !found {
		return campaign.Event{}, false, nil
	}
	e.CampaignID = campaign.UUID(campaignID)
	e.OccurredAt = timePtrOrNil(occurredAt)
	return e, true, nil
}

func (r *eventRepository) Update(ctx context.Context, e campaign.Event) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.event (id, campaign_id, name, is_completed, occurred_at) VALUES(?,?,?,?,?);",
		connection.Config.Keyspace)
	qry := connection.Session.Query(insertStatement, e.ID, gocql.UUID(e.CampaignID), e.Name, e.IsCompleted, timeOrZero(e.OccurredAt)).WithContext(ctx)
	if connection.Config.ConsistencyBook.ShellUpdate > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.ShellUpdate)
	}
	return qry.Exec()
}
