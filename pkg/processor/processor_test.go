package processor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quayside/workorder/pkg/engine"
	"github.com/quayside/workorder/pkg/matcher"
	"github.com/quayside/workorder/pkg/recipe"
	"github.com/quayside/workorder/pkg/worker"
)

const customerRecipe = `{
  "work_order_type": "update_telco_customer",
  "description": "Correct a customer's phone number",
  "steps": [
    {"step": 1, "operation": "QUERY", "table": "t_telco_customer",
     "where": "customer_code = {customer_code}", "output_fields": ["id", "status"],
     "on_failure": {"next_step": 10}},
    {"step": 2, "operation": "GENERATE_DML", "type": "UPDATE", "table": "t_telco_customer",
     "set": {"phone_number": "{new_phone_number}", "update_time": "NOW()"},
     "where": "id = {id}", "next_step": null},
    {"step": 10, "operation": "RETURN_ERROR", "message": "客户不存在，客户编号: {customer_code}"}
  ]
}`

// scriptedLLM replays canned completions in call order.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.replies) == 0 {
		return "", context.Canceled
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply, nil
}

type staticProbe struct{ res *engine.QueryResult }

func (p *staticProbe) Query(ctx context.Context, sqlText string) (*engine.QueryResult, error) {
	return p.res, nil
}

func newTestProcessor(t *testing.T, llmReplies []string, pr engine.Probe, pool *worker.Pool, traceDir string) *Processor {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "update_telco_customer.json"), []byte(customerRecipe), 0o644))
	log := zaptest.NewLogger(t)
	store, status, err := recipe.NewStore(dir, log)
	require.NoError(t, err)
	require.Equal(t, 1, status.Loaded)

	m := matcher.New(&scriptedLLM{replies: llmReplies}, log)
	return New(store, m, engine.New(pr), pool, traceDir, log)
}

func happyReplies() []string {
	return []string{
		`{"is_mutation": true, "reason": "asks for a phone number correction"}`,
		`{"matched_index": 1, "confidence": 0.92, "reasoning": "phone update"}`,
		`{"parameters": {"customer_code": "TC-1001", "new_phone_number": "13800138000"}}`,
	}
}

func TestProcessorEndToEnd(t *testing.T) {
	traceDir := t.TempDir()
	pr := &staticProbe{res: &engine.QueryResult{
		Columns:  []string{"id", "status"},
		Rows:     [][]any{{int64(7), "1"}},
		RowCount: 1,
	}}
	p := newTestProcessor(t, happyReplies(), pr, nil, traceDir)

	art, err := p.Run(context.Background(), Request{Text: "请把客户 TC-1001 的手机号改为 13800138000"})
	require.NoError(t, err)

	assert.NotEmpty(t, art.TaskID)
	assert.Equal(t, "update_telco_customer", art.RecipeType)
	assert.Equal(t, engine.StatusCompleted, art.Status)
	assert.InDelta(t, 0.92, art.Confidence, 1e-9)
	assert.Equal(t, []string{"t_telco_customer"}, art.AffectedTables)
	assert.Equal(t, engine.RiskLow, art.Risk)
	require.Len(t, art.DML, 1)
	assert.Equal(t,
		"UPDATE t_telco_customer SET phone_number = '13800138000', update_time = NOW() WHERE id = 7",
		art.DML[0].RenderedSQL)

	// One trace file per task, named by task ID.
	entries, err := os.ReadDir(traceDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, art.TaskID+".jsonl", entries[0].Name())
}

func TestProcessorMatcherParamsWinOverUpstream(t *testing.T) {
	pr := &staticProbe{res: &engine.QueryResult{
		Columns:  []string{"id", "status"},
		Rows:     [][]any{{int64(7), "1"}},
		RowCount: 1,
	}}
	p := newTestProcessor(t, happyReplies(), pr, nil, "")

	art, err := p.Run(context.Background(), Request{
		Text:   "update the phone number",
		Params: map[string]any{"new_phone_number": "00000000000", "channel": "api"},
	})
	require.NoError(t, err)

	// The matcher extracted 13800138000; the upstream seed loses.
	assert.Contains(t, art.DML[0].RenderedSQL, "'13800138000'")
	assert.Contains(t, art.ContextSnapshot, engine.Binding{Name: "channel", Value: "api"})
}

func TestProcessorRejectsNonMutation(t *testing.T) {
	p := newTestProcessor(t, []string{
		`{"is_mutation": false, "reason": "status inquiry"}`,
	}, &staticProbe{}, nil, "")

	_, err := p.Run(context.Background(), Request{Text: "我的货到哪了？"})
	require.ErrorIs(t, err, matcher.ErrNotMutation)
}

func TestProcessorNoMatchPassesThrough(t *testing.T) {
	p := newTestProcessor(t, []string{
		`{"is_mutation": true, "reason": "change request"}`,
		`{"matched_index": 0, "confidence": 0.9, "reasoning": "no recipe covers this"}`,
	}, &staticProbe{}, nil, "")

	_, err := p.Run(context.Background(), Request{Text: "please change something exotic"})
	require.ErrorIs(t, err, matcher.ErrNoMatch)
}

func TestProcessorUserErrorArtifact(t *testing.T) {
	pr := &staticProbe{res: &engine.QueryResult{Columns: []string{"id", "status"}, RowCount: 0}}
	p := newTestProcessor(t, happyReplies(), pr, nil, "")

	art, err := p.Run(context.Background(), Request{Text: "update the phone number"})
	require.NoError(t, err)
	assert.Equal(t, engine.StatusUserError, art.Status)
	assert.Equal(t, "客户不存在，客户编号: TC-1001", art.Message)
	assert.Empty(t, art.DML)
}

func TestProcessorSubmitRunsOnPool(t *testing.T) {
	pr := &staticProbe{res: &engine.QueryResult{
		Columns:  []string{"id", "status"},
		Rows:     [][]any{{int64(7), "1"}},
		RowCount: 1,
	}}
	pool := worker.NewPool(1, 4, zaptest.NewLogger(t))
	p := newTestProcessor(t, happyReplies(), pr, pool, "")

	done := make(chan *Artifact, 1)
	taskID, err := p.Submit(Request{Text: "update the phone number"}, func(art *Artifact, err error) {
		require.NoError(t, err)
		done <- art
	})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	art := <-done
	assert.Equal(t, taskID, art.TaskID)
	assert.Equal(t, engine.StatusCompleted, art.Status)
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestProcessorReloadCatalog(t *testing.T) {
	p := newTestProcessor(t, nil, &staticProbe{}, nil, "")
	status, err := p.ReloadCatalog()
	require.NoError(t, err)
	assert.Equal(t, 1, status.Loaded)
}
