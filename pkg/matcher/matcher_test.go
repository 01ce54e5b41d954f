package matcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quayside/workorder/pkg/recipe"
)

// scriptedClient replays canned replies in order.
type scriptedClient struct {
	replies []string
	errs    []error
	prompts []string
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	c.prompts = append(c.prompts, prompt)
	i := len(c.prompts) - 1
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	var reply string
	if i < len(c.replies) {
		reply = c.replies[i]
	}
	return reply, err
}

func testCatalog() []*recipe.Recipe {
	return []*recipe.Recipe{
		{
			WorkOrderType: "cancel_marine_order",
			Description:   "Cancel the marine order linked to a receipt order",
			Steps: []recipe.Step{
				{Step: 1, Operation: recipe.KindQuery, Table: "t_receipt_order",
					Where:        "receipt_order_number = {receipt_order_number}",
					OutputFields: []string{"id", "marine_order_id"}},
			},
		},
		{
			WorkOrderType: "update_telco_customer",
			Description:   "Correct a customer's phone number",
			Steps: []recipe.Step{
				{Step: 1, Operation: recipe.KindQuery, Table: "t_telco_customer",
					Where:        "customer_code = {customer_code}",
					OutputFields: []string{"id"}},
				{Step: 2, Operation: recipe.KindGenerateDML, Type: recipe.DMLUpdate,
					Table: "t_telco_customer",
					Set:   recipe.NewFieldMap([2]string{"phone_number", "{new_phone_number}"}),
					Where: "id = {id}"},
			},
		},
	}
}

func TestMatchHappyPath(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"matched_index": 2, "confidence": 0.93, "reasoning": "phone number correction"}`,
		"```json\n{\"parameters\": {\"customer_code\": \"TC-1001\", \"new_phone_number\": \"13800138000\"}}\n```",
	}}
	m := New(client, zaptest.NewLogger(t))

	got, err := m.Match(context.Background(), "请更新客户 TC-1001 的手机号为 13800138000", testCatalog())
	require.NoError(t, err)
	assert.Equal(t, "update_telco_customer", got.Recipe.WorkOrderType)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)
	assert.Equal(t, "TC-1001", got.Params["customer_code"])
	assert.Equal(t, "13800138000", got.Params["new_phone_number"])

	// The selection prompt lists recipes as ordinal. type: description.
	require.Len(t, client.prompts, 2)
	assert.Contains(t, client.prompts[0], "1. cancel_marine_order:")
	assert.Contains(t, client.prompts[0], "2. update_telco_customer:")
}

func TestMatchLowConfidence(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"matched_index": 1, "confidence": 0.45, "reasoning": "unsure"}`,
	}}
	m := New(client, zaptest.NewLogger(t))

	_, err := m.Match(context.Background(), "do something", testCatalog())
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchExplicitNoMatch(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"matched_index": 0, "confidence": 0.95, "reasoning": "no recipe applies"}`,
	}}
	m := New(client, zaptest.NewLogger(t))

	_, err := m.Match(context.Background(), "status inquiry", testCatalog())
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestMatchMalformedThenRecovers(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`I think recipe two is best.`,
		`{"matched_index": 2, "confidence": 0.9, "reasoning": "ok"}`,
		`{"parameters": {"customer_code": "TC-1"}}`,
	}}
	m := New(client, zaptest.NewLogger(t))

	got, err := m.Match(context.Background(), "update phone", testCatalog())
	require.NoError(t, err)
	assert.Equal(t, "update_telco_customer", got.Recipe.WorkOrderType)
	assert.Len(t, client.prompts, 3)
}

func TestMatchMalformedTwiceFails(t *testing.T) {
	client := &scriptedClient{replies: []string{`nope`, `still nope`}}
	m := New(client, zaptest.NewLogger(t))

	_, err := m.Match(context.Background(), "update phone", testCatalog())
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "select", merr.Stage)
}

func TestMatchOutOfRangeIndex(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"matched_index": 7, "confidence": 0.9, "reasoning": "x"}`,
		`{"matched_index": 7, "confidence": 0.9, "reasoning": "x"}`,
	}}
	m := New(client, zaptest.NewLogger(t))

	_, err := m.Match(context.Background(), "x", testCatalog())
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Reason, "out of range")
}

func TestMatchConfidenceOutOfRange(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"matched_index": 1, "confidence": 1.4, "reasoning": "x"}`,
		`{"matched_index": 1, "confidence": 1.4, "reasoning": "x"}`,
	}}
	m := New(client, zaptest.NewLogger(t))

	_, err := m.Match(context.Background(), "x", testCatalog())
	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Contains(t, merr.Reason, "out of range")
}

func TestMatchDropsUnexpectedParameters(t *testing.T) {
	client := &scriptedClient{replies: []string{
		`{"matched_index": 2, "confidence": 0.9, "reasoning": "ok"}`,
		`{"parameters": {"customer_code": "TC-1", "invented_key": "boom"}}`,
	}}
	m := New(client, zaptest.NewLogger(t))

	got, err := m.Match(context.Background(), "update phone", testCatalog())
	require.NoError(t, err)
	assert.Contains(t, got.Params, "customer_code")
	assert.NotContains(t, got.Params, "invented_key")
}

func TestMatchEmptyCatalog(t *testing.T) {
	m := New(&scriptedClient{}, zaptest.NewLogger(t))
	_, err := m.Match(context.Background(), "x", nil)
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestSeedParamsExcludesQueryOutputs(t *testing.T) {
	rc := testCatalog()[1]
	got := SeedParams(rc)
	assert.ElementsMatch(t, []string{"customer_code", "new_phone_number"}, got)
	assert.NotContains(t, got, "id")
}

func TestEnsureMutationIntent(t *testing.T) {
	t.Run("mutation passes", func(t *testing.T) {
		client := &scriptedClient{replies: []string{`{"is_mutation": true, "reason": "asks for a correction"}`}}
		m := New(client, zaptest.NewLogger(t))
		require.NoError(t, m.EnsureMutationIntent(context.Background(), "please fix the phone number"))
	})
	t.Run("inquiry rejected", func(t *testing.T) {
		client := &scriptedClient{replies: []string{`{"is_mutation": false, "reason": "status inquiry"}`}}
		m := New(client, zaptest.NewLogger(t))
		err := m.EnsureMutationIntent(context.Background(), "where is my order?")
		require.ErrorIs(t, err, ErrNotMutation)
	})
	t.Run("transport failure surfaces", func(t *testing.T) {
		boom := errors.New("boom")
		client := &scriptedClient{errs: []error{boom, boom}}
		m := New(client, zaptest.NewLogger(t))
		err := m.EnsureMutationIntent(context.Background(), "x")
		require.Error(t, err)
		assert.True(t, strings.Contains(err.Error(), "boom"))
	})
}
