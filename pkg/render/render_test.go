package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(vals map[string]any) Lookup {
	return func(name string) (any, bool) {
		v, ok := vals[name]
		return v, ok
	}
}

func TestRenderSQLLiteral(t *testing.T) {
	ctx := lookup(map[string]any{
		"code":   "TC-1001",
		"id":     int64(42),
		"ratio":  2.5,
		"flag":   true,
		"absent": nil,
	})

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"string quoted", "customer_code = {code}", "customer_code = 'TC-1001'"},
		{"integer bare", "id = {id}", "id = 42"},
		{"float plain decimal", "ratio = {ratio}", "ratio = 2.5"},
		{"bool keyword", "flag = {flag}", "flag = TRUE"},
		{"null keyword", "x = {absent}", "x = NULL"},
		{"literal text kept", "update_time = NOW()", "update_time = NOW()"},
		{"repeated placeholder", "{id} = {id}", "42 = 42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.tmpl, ctx, SQLLiteral)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderQuoteEscaping(t *testing.T) {
	// A value crafted to break out of the quoted literal must stay inert.
	ctx := lookup(map[string]any{"name": `x'; DROP TABLE users;--`})
	got, err := Render("name = {name}", ctx, SQLLiteral)
	require.NoError(t, err)
	assert.Equal(t, `name = 'x''; DROP TABLE users;--'`, got)
}

func TestRenderRejectsControlCharacters(t *testing.T) {
	for _, v := range []string{"a\x00b", "a\nb", "a\rb"} {
		_, err := Render("x = {v}", lookup(map[string]any{"v": v}), SQLLiteral)
		require.Error(t, err)
		var rerr *Error
		require.ErrorAs(t, err, &rerr)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	_, err := Render("id = {missing}", lookup(nil), SQLLiteral)
	require.Error(t, err)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "missing", rerr.Missing)
}

func TestRenderIdentifierMode(t *testing.T) {
	got, err := Render("{col}", lookup(map[string]any{"col": "order_status"}), SQLIdentifier)
	require.NoError(t, err)
	assert.Equal(t, "order_status", got)

	_, err = Render("{col}", lookup(map[string]any{"col": "order-status; --"}), SQLIdentifier)
	require.Error(t, err)

	_, err = Render("{col}", lookup(map[string]any{"col": int64(1)}), SQLIdentifier)
	require.Error(t, err)
}

func TestRenderLenientKeepsMissingPlaceholders(t *testing.T) {
	got := RenderLenient("单号: {receipt_order_number}, 状态: {order_status}",
		lookup(map[string]any{"receipt_order_number": "RO-9"}))
	assert.Equal(t, "单号: RO-9, 状态: {order_status}", got)
}

func TestRenderSQLParameterization(t *testing.T) {
	ctx := lookup(map[string]any{"id": int64(7), "phone": "13800138000"})
	got, err := RenderSQL("phone_number = {phone}, update_time = NOW() WHERE id = {id}", ctx)
	require.NoError(t, err)

	assert.Equal(t, "phone_number = '13800138000', update_time = NOW() WHERE id = 7", got.Text)
	assert.Equal(t, "phone_number = ?, update_time = NOW() WHERE id = ?", got.Template)
	require.Len(t, got.Params, 2)
	assert.Equal(t, Param{Name: "phone", Value: "13800138000"}, got.Params[0])
	assert.Equal(t, Param{Name: "id", Value: int64(7)}, got.Params[1])

	// Substituting the params back into the template positionally as SQL
	// literals reproduces the rendered text.
	rebuilt := got.Template
	for _, p := range got.Params {
		lit, err := Literal(p.Value)
		require.NoError(t, err)
		rebuilt = replaceFirst(rebuilt, "?", lit)
	}
	assert.Equal(t, got.Text, rebuilt)
}

func replaceFirst(s, old, new string) string {
	for i := 0; i+len(old) <= len(s); i++ {
		if s[i:i+len(old)] == old {
			return s[:i] + new + s[i+len(old):]
		}
	}
	return s
}

func TestPlaceholders(t *testing.T) {
	got := Placeholders("a = {x} and b = {y} and c = {x}")
	assert.Equal(t, []string{"x", "y"}, got)
	assert.Empty(t, Placeholders("no placeholders, not even {1bad}"))
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("t_marine_order"))
	assert.True(t, ValidIdentifier("_x1"))
	assert.False(t, ValidIdentifier("1x"))
	assert.False(t, ValidIdentifier("t;drop"))
	assert.False(t, ValidIdentifier(""))
}
