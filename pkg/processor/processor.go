// Package processor is the service layer: it takes a free-text work order
// through the intent gate, recipe matching, and the engine, and produces a
// reviewable DML artifact. It never executes the DML it produces.
package processor

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quayside/workorder/pkg/engine"
	"github.com/quayside/workorder/pkg/matcher"
	"github.com/quayside/workorder/pkg/recipe"
	"github.com/quayside/workorder/pkg/trace"
	"github.com/quayside/workorder/pkg/worker"
)

// Request is one incoming work order. Params are upstream-provided seed
// values; parameters the matcher extracts win on collision.
type Request struct {
	Text   string
	Params map[string]any
}

// Artifact is the reviewable output of one processed work order.
type Artifact struct {
	TaskID          string              `json:"task_id"`
	RecipeType      string              `json:"recipe_type"`
	Description     string              `json:"description"`
	Status          engine.Status       `json:"status"`
	Confidence      float64             `json:"confidence"`
	AffectedTables  []string            `json:"affected_tables,omitempty"`
	Risk            engine.Risk         `json:"risk,omitempty"`
	Message         string              `json:"message,omitempty"`
	DML             []engine.DMLRecord  `json:"dml,omitempty"`
	ContextSnapshot []engine.Binding    `json:"context_snapshot,omitempty"`
	Trace           []engine.TraceEntry `json:"trace,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	Duration        time.Duration       `json:"duration"`
}

// Processor wires the catalog, matcher, engine, and worker pool together.
type Processor struct {
	store    *recipe.Store
	matcher  *matcher.Matcher
	engine   *engine.Engine
	pool     *worker.Pool
	traceDir string
	log      *zap.Logger
	now      func() time.Time
}

// New creates a processor. The pool may be nil when only synchronous Run is
// used; traceDir may be empty to disable trace files.
func New(store *recipe.Store, m *matcher.Matcher, e *engine.Engine, pool *worker.Pool, traceDir string, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		store:    store,
		matcher:  m,
		engine:   e,
		pool:     pool,
		traceDir: traceDir,
		log:      log,
		now:      time.Now,
	}
}

// Run processes one work order synchronously.
func (p *Processor) Run(ctx context.Context, req Request) (*Artifact, error) {
	return p.run(ctx, uuid.NewString(), req)
}

// Submit enqueues a work order on the pool and returns its task ID
// immediately. The callback receives the artifact or error when the run
// finishes. Fails fast with worker.ErrSaturated under back-pressure.
func (p *Processor) Submit(req Request, done func(*Artifact, error)) (string, error) {
	taskID := uuid.NewString()
	err := p.pool.Submit(func(ctx context.Context) {
		art, err := p.run(ctx, taskID, req)
		if done != nil {
			done(art, err)
		}
	})
	if err != nil {
		return "", err
	}
	p.log.Info("work order queued", zap.String("task_id", taskID))
	return taskID, nil
}

func (p *Processor) run(ctx context.Context, taskID string, req Request) (*Artifact, error) {
	log := p.log.With(zap.String("task_id", taskID))
	start := p.now()

	if err := p.matcher.EnsureMutationIntent(ctx, req.Text); err != nil {
		return nil, err
	}

	m, err := p.matcher.Match(ctx, req.Text, p.store.ListAll())
	if err != nil {
		return nil, err
	}

	seed := engine.NewContext()
	for _, k := range sortedKeys(req.Params) {
		seed.Set(k, req.Params[k])
	}
	// Matcher-extracted values overwrite upstream seeds on collision: the
	// model read the actual work-order text, the upstream caller did not.
	for _, k := range sortedKeys(m.Params) {
		seed.Set(k, m.Params[k])
	}

	var tw *trace.Writer
	if p.traceDir != "" {
		tw, err = trace.NewFileWriter(filepath.Join(p.traceDir, taskID+".jsonl"), taskID, nil)
		if err != nil {
			log.Warn("trace file unavailable, continuing without", zap.Error(err))
			tw = nil
		} else {
			defer tw.Close()
		}
	}

	res := p.engine.Run(ctx, m.Recipe, seed, tw)

	art := &Artifact{
		TaskID:          taskID,
		RecipeType:      m.Recipe.WorkOrderType,
		Description:     m.Recipe.Description,
		Status:          res.Status,
		Confidence:      m.Confidence,
		AffectedTables:  res.AffectedTables,
		Risk:            res.Risk,
		Message:         res.Message,
		DML:             res.DML,
		ContextSnapshot: res.Context,
		Trace:           res.Trace,
		StartedAt:       start,
		Duration:        p.now().Sub(start),
	}

	switch res.Status {
	case engine.StatusCompleted:
		log.Info("work order processed",
			zap.String("recipe_type", art.RecipeType),
			zap.Int("dml_count", len(art.DML)),
			zap.String("risk", string(art.Risk)),
			zap.Strings("affected_tables", art.AffectedTables))
	case engine.StatusUserError:
		log.Info("work order rejected by recipe",
			zap.String("recipe_type", art.RecipeType),
			zap.String("message", art.Message))
	default:
		log.Error("work order run failed",
			zap.String("recipe_type", art.RecipeType),
			zap.String("kind", string(res.Kind)),
			zap.Int("step", res.Step),
			zap.String("detail", res.Message))
	}
	return art, nil
}

// ReloadCatalog re-reads the recipe directory and atomically swaps the
// catalog.
func (p *Processor) ReloadCatalog() (recipe.CatalogStatus, error) {
	return p.store.Reload()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
