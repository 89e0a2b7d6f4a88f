package peloton

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Engine runs full sync cycles: collect, transform, reconcile. The first
// cycle is a full refresh; later cycles in the same invocation only look
// at items updated since the previous cycle started.
type Engine struct {
	collector  *Collector
	reconciler Reconciler
	cfg        *BoardConfig
	log        logrus.FieldLogger
	dryRun     bool

	transformer    *Transformer
	lastCycleStart *time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// NewEngine wires a sync engine for one board.
func NewEngine(client APIClient, cfg *BoardConfig, log logrus.FieldLogger, dryRun bool) *Engine {
	return &Engine{
		collector:  NewCollector(client, cfg),
		reconciler: NewReconciler(client, cfg, log),
		cfg:        cfg,
		log:        log,
		dryRun:     dryRun,
		now:        time.Now,
	}
}

// RunCycle executes one collect → transform → reconcile cycle. A
// collection failure aborts the cycle with no partial results used; a
// reconciliation failure is a PartialSyncFailure after all items have
// been attempted.
func (e *Engine) RunCycle(ctx context.Context) error {
	incremental := e.lastCycleStart != nil
	if incremental {
		e.log.Info("starting incremental update cycle")
	} else {
		e.log.Info("starting full refresh cycle")
	}

	if err := e.ensureTransformer(ctx); err != nil {
		return err
	}

	since := e.lastCycleStart
	// Captured before the search so activity landing mid-query is picked
	// up again by the next cycle rather than lost.
	cycleStart := e.now()

	items, err := e.collector.Collect(ctx, since)
	if err != nil {
		return err
	}
	e.log.WithField("items", len(items)).Info("collection complete")

	desired := e.transformer.TransformAll(items)

	plan, err := e.reconciler.Plan(ctx, desired)
	if err != nil {
		return err
	}
	e.lastCycleStart = &cycleStart

	e.log.WithFields(logrus.Fields{
		"add_issues": len(plan.AddIssues),
		"add_drafts": len(plan.AddDrafts),
		"updates":    len(plan.Updates),
		"clears":     len(plan.Clears),
		"stale":      plan.StaleItems,
		"mutations":  plan.MutationCount(),
	}).Info("plan computed")

	if e.dryRun {
		e.logPlan(plan)
		return nil
	}

	if plan.IsEmpty() {
		e.log.Info("board already up to date")
		return nil
	}

	if err := e.reconciler.Apply(ctx, plan); err != nil {
		if partial, ok := err.(*PartialSyncFailure); ok {
			e.log.WithField("failed", partial.FailedOperations()).
				Warn("cycle completed with partial failures")
		}
		return err
	}

	e.log.Info("cycle complete")
	return nil
}

// Prune removes board items whose linked item no longer qualifies for
// the board. This is the explicit, operator-invoked counterpart to the
// additive-only sync.
func (e *Engine) Prune(ctx context.Context) error {
	if err := e.ensureTransformer(ctx); err != nil {
		return err
	}

	items, err := e.collector.Collect(ctx, nil)
	if err != nil {
		return err
	}
	desired := e.transformer.TransformAll(items)

	stale, err := e.reconciler.PlanPrune(ctx, desired)
	if err != nil {
		return err
	}
	e.log.WithField("stale", len(stale)).Info("prune plan computed")

	if e.dryRun || len(stale) == 0 {
		return nil
	}
	return e.reconciler.ApplyPrune(ctx, stale)
}

// ensureTransformer builds the transformer on first use; the team roster
// is fetched once per invocation, not per cycle.
func (e *Engine) ensureTransformer(ctx context.Context) error {
	if e.transformer != nil {
		return nil
	}

	members, err := e.collector.CollectTeamMembers(ctx)
	if err != nil {
		return err
	}
	e.log.WithField("members", len(members)).Debug("team roster fetched")

	transformer, err := NewTransformer(members, e.cfg.BotOverrides, e.cfg.DiscussionLabelPattern)
	if err != nil {
		return err
	}
	e.transformer = transformer
	return nil
}

func (e *Engine) logPlan(plan *SyncPlan) {
	for _, add := range plan.AddIssues {
		e.log.WithField("url", add.Item.URL).Info("would add issue to board")
	}
	for _, add := range plan.AddDrafts {
		e.log.WithField("url", add.Item.URL).Info("would add discussion draft to board")
	}
	for _, update := range plan.Updates {
		e.log.WithFields(logrus.Fields{
			"url":   update.Item.URL,
			"field": update.Assignment.Field.Name,
		}).Info("would update field")
	}
	for _, clear := range plan.Clears {
		e.log.WithFields(logrus.Fields{
			"url":   clear.Item.URL,
			"field": clear.Field.Name,
		}).Info("would clear field")
	}
}
