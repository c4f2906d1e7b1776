package effect

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"time"

	campaign "github.com/jakekausler/campaign-manager-sub010"
	"github.com/jakekausler/campaign-manager-sub010/cel"
	"github.com/jakekausler/campaign-manager-sub010/version"
)

// Engine runs the resolution workflow: execute the target's active effects in
// phase order, then commit the final working copy, the shell's
// resolved/completed flag and one execution row per attempted effect as a
// single all-or-nothing write.
type Engine struct {
	effects    campaign.EffectRepository
	executions campaign.EffectExecutionRepository
	encounters campaign.EncounterRepository
	events     campaign.EventRepository
	store      *version.Store
	resolver   *version.Resolver
	membership campaign.Membership
	audit      campaign.Audit
}

// NewEngine wires the effect engine.
func NewEngine(effects campaign.EffectRepository, executions campaign.EffectExecutionRepository,
	encounters campaign.EncounterRepository, events campaign.EventRepository,
	store *version.Store, resolver *version.Resolver) *Engine {
	return &Engine{
		effects:    effects,
		executions: executions,
		encounters: encounters,
		events:     events,
		store:      store,
		resolver:   resolver,
	}
}

// WithMembership adds the authorization collaborator.
func (e *Engine) WithMembership(m campaign.Membership) *Engine {
	e.membership = m
	return e
}

// WithAudit adds the audit collaborator.
func (e *Engine) WithAudit(a campaign.Audit) *Engine {
	e.audit = a
	return e
}

// EncounterResolution is the outcome of resolving one encounter.
type EncounterResolution struct {
	Encounter campaign.Encounter     `json:"encounter"`
	Payload   campaign.Document      `json:"payload"`
	Summary   campaign.EffectSummary `json:"effectSummary"`
}

// EventResolution is the outcome of completing one event.
type EventResolution struct {
	Event   campaign.Event         `json:"event"`
	Payload campaign.Document      `json:"payload"`
	Summary campaign.EffectSummary `json:"effectSummary"`
}

// ResolveEncounter executes the encounter's effects and marks it resolved.
// Failed effects never abort the workflow; the summary reports them.
func (e *Engine) ResolveEncounter(ctx context.Context, encounterID string, branchID campaign.UUID,
	worldTime time.Time, execContext campaign.Document, user campaign.AuthenticatedUser) (EncounterResolution, error) {
	enc, found, err := e.encounters.Get(ctx, encounterID)
	if err != nil {
		return EncounterResolution{}, campaign.NewError(campaign.Transient, err)
	}
	if !found {
		return EncounterResolution{}, campaign.Errorf(campaign.NotFound, "encounter %s does not exist", encounterID)
	}
	if err := e.authorize(ctx, user, enc.CampaignID); err != nil {
		return EncounterResolution{}, err
	}
	if enc.IsResolved {
		return EncounterResolution{}, campaign.Errorf(campaign.BadRequest, "encounter %s is already resolved", encounterID)
	}

	working, summary, rows, err := e.runWorkflow(ctx, campaign.EntityTypeEncounter, encounterID, branchID, worldTime, execContext, user)
	if err != nil {
		return EncounterResolution{}, err
	}

	now := time.Now()
	enc.IsResolved = true
	enc.ResolvedAt = &now
	if _, err := e.store.CreateVersionForResolution(ctx, campaign.EntityTypeEncounter, encounterID, branchID,
		worldTime, working, user, rows, campaign.ShellUpdate{Encounter: &enc}); err != nil {
		return EncounterResolution{}, err
	}
	e.logAudit(ctx, user, "encounter.resolve", campaign.EntityTypeEncounter, encounterID)
	return EncounterResolution{Encounter: enc, Payload: working, Summary: summary}, nil
}

// ResolveEvent executes the event's effects and marks it completed.
func (e *Engine) ResolveEvent(ctx context.Context, eventID string, branchID campaign.UUID,
	worldTime time.Time, execContext campaign.Document, user campaign.AuthenticatedUser) (EventResolution, error) {
	ev, found, err := e.events.Get(ctx, eventID)
	if err != nil {
		return EventResolution{}, campaign.NewError(campaign.Transient, err)
	}
	if !found {
		return EventResolution{}, campaign.Errorf(campaign.NotFound, "event %s does not exist", eventID)
	}
	if err := e.authorize(ctx, user, ev.CampaignID); err != nil {
		return EventResolution{}, err
	}
	if ev.IsCompleted {
		return EventResolution{}, campaign.Errorf(campaign.BadRequest, "event %s is already completed", eventID)
	}

	working, summary, rows, err := e.runWorkflow(ctx, campaign.EntityTypeEvent, eventID, branchID, worldTime, execContext, user)
	if err != nil {
		return EventResolution{}, err
	}

	now := time.Now()
	ev.IsCompleted = true
	ev.OccurredAt = &now
	if _, err := e.store.CreateVersionForResolution(ctx, campaign.EntityTypeEvent, eventID, branchID,
		worldTime, working, user, rows, campaign.ShellUpdate{Event: &ev}); err != nil {
		return EventResolution{}, err
	}
	e.logAudit(ctx, user, "event.resolve", campaign.EntityTypeEvent, eventID)
	return EventResolution{Event: ev, Payload: working, Summary: summary}, nil
}

// ExecuteEffectsWithDependencies is reserved for dependency-ordered
// execution; until the topological scheduler lands it always refuses.
func (e *Engine) ExecuteEffectsWithDependencies(ctx context.Context, effectIDs []campaign.UUID,
	execContext campaign.Document, user campaign.AuthenticatedUser) error {
	return campaign.Errorf(campaign.NotImplemented, "dependency-ordered effect execution is not available")
}

// runWorkflow executes the three phases over a working copy of the entity's
// payload. It persists nothing; the caller commits the working copy, the
// execution rows and the shell flip together.
func (e *Engine) runWorkflow(ctx context.Context, entityType campaign.EntityType, entityID string,
	branchID campaign.UUID, worldTime time.Time, execContext campaign.Document,
	user campaign.AuthenticatedUser) (campaign.Document, campaign.EffectSummary, []campaign.EffectExecution, error) {
	working, found, err := e.resolver.ResolveDocument(ctx, entityType, entityID, branchID, worldTime)
	if err != nil {
		return nil, campaign.EffectSummary{}, nil, err
	}
	if !found {
		working = campaign.Document{}
	}

	effects, err := e.effects.ListActiveForEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, campaign.EffectSummary{}, nil, campaign.NewError(campaign.Transient, err)
	}

	var summary campaign.EffectSummary
	var rows []campaign.EffectExecution
	for _, phase := range []struct {
		timing  campaign.EffectTiming
		summary *campaign.PhaseSummary
	}{
		{campaign.TimingPre, &summary.Pre},
		{campaign.TimingOnResolve, &summary.OnResolve},
		{campaign.TimingPost, &summary.Post},
	} {
		phaseEffects := filterPhase(effects, phase.timing)
		for _, eff := range phaseEffects {
			phase.summary.Total++
			row := e.runEffect(ctx, eff, &working, execContext, user)
			switch {
			case row.Skipped:
				phase.summary.Skipped++
			case row.Success:
				phase.summary.Succeeded++
			default:
				phase.summary.Failed++
			}
			rows = append(rows, row)
		}
	}

	return working, summary, rows, nil
}

// runEffect attempts one effect against the working copy. Failures never
// propagate; they are recorded and the working copy stays as it was.
func (e *Engine) runEffect(ctx context.Context, eff campaign.Effect, working *campaign.Document,
	execContext campaign.Document, user campaign.AuthenticatedUser) campaign.EffectExecution {
	row := campaign.EffectExecution{
		ID:         campaign.NewUUID(),
		EffectID:   eff.ID,
		EntityType: eff.EntityType,
		EntityID:   eff.EntityID,
		ExecutedAt: time.Now(),
		ExecutedBy: user.ID,
		Context:    execContext,
	}

	if eff.Condition != "" {
		evaluator, err := cel.NewEvaluator(eff.Condition)
		if err != nil {
			row.Error = fmt.Sprintf("condition did not compile: %v", err)
			return row
		}
		ok, err := evaluator.Evaluate(*working, execContext)
		if err != nil {
			row.Error = fmt.Sprintf("condition did not evaluate: %v", err)
			return row
		}
		if !ok {
			row.Skipped = true
			return row
		}
	}

	if eff.EffectType != campaign.EffectTypePatch {
		row.Error = fmt.Sprintf("unsupported effect type %q", eff.EffectType)
		return row
	}
	if err := ValidatePatch(eff.EntityType, eff.Payload); err != nil {
		row.Error = err.Error()
		return row
	}
	patched, affected, err := ApplyPatch(*working, eff.Payload)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	*working = patched
	row.Success = true
	row.AffectedFields = affected
	return row
}

// Executions lists the recorded executions of one effect.
func (e *Engine) Executions(ctx context.Context, effectID campaign.UUID) ([]campaign.EffectExecution, error) {
	executions, err := e.executions.ListForEffect(ctx, effectID)
	if err != nil {
		return nil, campaign.NewError(campaign.Transient, err)
	}
	return executions, nil
}

func filterPhase(effects []campaign.Effect, timing campaign.EffectTiming) []campaign.Effect {
	var out []campaign.Effect
	for _, eff := range effects {
		if eff.Timing == timing {
			out = append(out, eff)
		}
	}
	// Ascending priority; creation order breaks ties (the repository already
	// lists in creation order and the sort is stable).
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (e *Engine) authorize(ctx context.Context, user campaign.AuthenticatedUser, campaignID campaign.UUID) error {
	if e.membership == nil {
		return nil
	}
	ok, err := e.membership.CanEdit(ctx, user, campaignID)
	if err != nil {
		return campaign.NewError(campaign.Transient, err)
	}
	if !ok {
		return campaign.Errorf(campaign.NotFound, "campaign %s does not exist", campaignID)
	}
	return nil
}

func (e *Engine) logAudit(ctx context.Context, user campaign.AuthenticatedUser, action string,
	entityType campaign.EntityType, entityID string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, campaign.AuditEntry{
		User:       user.ID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
	}); err != nil {
		log.Warn(fmt.Sprintf("audit log of %s failed, details: %v", action, err))
	}
}
