package cassandra

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/encoding"
)

type effectRepository struct{}

// NewEffectRepository manages declarative effects in the effect table.
func NewEffectRepository() campaign.EffectRepository {
	return &effectRepository{}
}

const effectColumns = "entity_type, entity_id, created_at, id, name, effect_type, payload, timing, priority, condition, is_active, created_by"

func (r *effectRepository) Add(ctx context.Context, e campaign.Effect) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	payload, err := encoding.DefaultMarshaler.Marshal(e.Payload)
	if err != nil {
		return err
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.effect (%s) VALUES(?,?,?,?,?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace, effectColumns)
	qry := connection.Session.Query(insertStatement, string(e.EntityType), e.EntityID, e.CreatedAt, gocql.UUID(e.ID),
		e.Name, e.EffectType, payload, string(e.Timing), e.Priority, e.Condition, e.IsActive, e.CreatedBy).WithContext(ctx)
	if connection.Config.ConsistencyBook.EffectAdd > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EffectAdd)
	}
	return qry.Exec()
}

func (r *effectRepository) Get(ctx context.Context, id campaign.UUID) (campaign.Effect, bool, error) {
	if connection == nil {
		return campaign.Effect{}, false, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT %s FROM %s.effect WHERE id = ?;", effectColumns, connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(id)).WithContext(ctx)
	if connection.Config.ConsistencyBook.EffectGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EffectGet)
	}
	iter := qry.Iter()
	e, found, err := scanEffect(iter)
	if cerr := iter.Close(); cerr != nil {
		return campaign.Effect{}, false, cerr
	}
	if err != nil {
		return campaign.Effect{}, false, err
	}
	return e, found, nil
}

func (r *effectRepository) ListActiveForEntity(ctx context.Context, entityType campaign.EntityType, entityID string) ([]campaign.Effect, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	// Partition is clustered by created_at, so rows come back in stable
	// creation order already.
	selectStatement := fmt.Sprintf("SELECT %s FROM %s.effect WHERE entity_type = ? AND entity_id = ?;",
		effectColumns, connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, string(entityType), entityID).WithContext(ctx)
	if connection.Config.ConsistencyBook.EffectGet > gocql.Any {
		qry.Consistency(connection.Config.ConsistencyBook.EffectGet)
	}
	iter := qry.Iter()
	var effects []campaign.Effect
	for {
		e, ok, err := scanEffect(iter)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if !ok {
			break
		}
		if e.IsActive {
			effects = append(effects, e)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return effects, nil
}

func scanEffect(iter *gocql.Iter) (campaign.Effect, bool, error) {
	var e campaign.Effect
	var entityType, timing string
	var id gocql.UUID
	var payload []byte
	if !iter.Scan(&entityType, &e.EntityID, &e.CreatedAt, &id, &e.Name, &e.EffectType, &payload, &timing, &e.Priority, &e.Condition, &e.IsActive, &e.CreatedBy) {
		return campaign.Effect{}, false, nil
	}
	e.EntityType = campaign.EntityType(entityType)
	e.Timing = campaign.EffectTiming(timing)
	e.ID = campaign.UUID(id)
	if len(payload) > 0 {
		if err := encoding.DefaultMarshaler.Unmarshal(payload, &e.Payload); err != nil {
			return campaign.Effect{}, false, err
		}
	}
	return e, true, nil
}

type executionRepository struct{}

// NewExecutionRepository manages the append-only effect execution records.
func NewExecutionRepository() campaign.EffectExecutionRepository {
	return &executionRepository{}
}

func (r *executionRepository) Add(ctx context.Context, executions ...campaign.EffectExecution) error {
	if connection == nil {
		return fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	insertStatement := fmt.Sprintf("INSERT INTO %s.effect_execution (effect_id, executed_at, id, entity_type, entity_id, executed_by, context, success, skipped, affected_fields, error) VALUES(?,?,?,?,?,?,?,?,?,?,?);",
		connection.Config.Keyspace)
	for _, x := range executions {
		var contextBlob []byte
		if x.Context != nil {
			ba, err := encoding.DefaultMarshaler.Marshal(x.Context)
			if err != nil {
				return err
			}
			contextBlob = ba
		}
		qry := connection.Session.Query(insertStatement, gocql.UUID(x.EffectID), x.ExecutedAt, gocql.UUID(x.ID),
			string(x.EntityType), x.EntityID, x.ExecutedBy, contextBlob, x.Success, x.Skipped, x.AffectedFields, x.Error).WithContext(ctx)
		if connection.Config.ConsistencyBook.ExecutionAdd > gocql.Any {
			qry.Consistency(connection.Config.ConsistencyBook.ExecutionAdd)
		}
		if err := qry.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *executionRepository) ListForEffect(ctx context.Context, effectID campaign.UUID) ([]campaign.EffectExecution, error) {
	if connection == nil {
		return nil, fmt.Errorf("Cassandra connection is closed, 'call GetConnection(config) to open it")
	}
	selectStatement := fmt.Sprintf("SELECT effect_id, executed_at, id, entity_type, entity_id, executed_by, context, success, skipped, affected_fields, error FROM %s.effect_execution WHERE effect_id = ?;",
		connection.Config.Keyspace)
	qry := connection.Session.Query(selectStatement, gocql.UUID(effectID)).WithContext(ctx)
	iter := qry.Iter()
	var executions []campaign.EffectExecution
	var x campaign.EffectExecution
	var entityType string
	var eid, id gocql.UUID
	var contextBlob []byte
	for iter.Scan(&eid, &x.ExecutedAt, &id, &entityType, &x.EntityID, &x.ExecutedBy, &contextBlob, &x.Success, &x.Skipped, &x.AffectedFields, &x.Error) {
		x.EffectID = campaign.UUID(eid)
		x.ID = campaign.UUID(id)
		x.EntityType = campaign.EntityType(entityType)
		if len(contextBlob) > 0 {
			if err := encoding.DefaultMarshaler.Unmarshal(contextBlob, &x.Context); err != nil {
				iter.Close()
				return nil, err
			}
		}
		executions = append(executions, x)
		x = campaign.EffectExecution{}
		contextBlob = nil
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return executions, nil
}
