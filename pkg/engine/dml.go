package engine

import (
	"fmt"
	"strings"

	"github.com/quayside/workorder/pkg/recipe"
	"github.com/quayside/workorder/pkg/render"
)

// Risk is the blast-radius classification of a run's accumulated DML.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// DMLRecord is one generated statement in both literal and parameterized
// form. Parameters substituted positionally into TemplateSQL as SQL
// literals reproduce RenderedSQL exactly.
type DMLRecord struct {
	Kind        recipe.DMLType `json:"kind"`
	Table       string         `json:"table"`
	RenderedSQL string         `json:"rendered_sql"`
	TemplateSQL string         `json:"template_sql"`
	Parameters  []render.Param `json:"parameters"`
	Description string         `json:"description"`

	where string // rendered WHERE clause, drives risk classification
}

// sqlBuilder accumulates the literal and parameterized forms in lockstep.
type sqlBuilder struct {
	text   strings.Builder
	templ  strings.Builder
	params []render.Param
}

func (b *sqlBuilder) lit(s string) {
	b.text.WriteString(s)
	b.templ.WriteString(s)
}

func (b *sqlBuilder) frag(tmpl string, lookup render.Lookup) (string, error) {
	s, err := render.RenderSQL(tmpl, lookup)
	if err != nil {
		return "", err
	}
	b.text.WriteString(s.Text)
	b.templ.WriteString(s.Template)
	b.params = append(b.params, s.Params...)
	return s.Text, nil
}

// buildDML renders a GENERATE_DML step against the run context.
func buildDML(step *recipe.Step, lookup render.Lookup) (DMLRecord, error) {
	if !render.ValidIdentifier(step.Table) {
		return DMLRecord{}, &render.Error{Reason: fmt.Sprintf("invalid table identifier %q", step.Table)}
	}
	for _, keys := range [][]string{step.Set.Keys(), step.Values.Keys()} {
		for _, col := range keys {
			if !render.ValidIdentifier(col) {
				return DMLRecord{}, &render.Error{Reason: fmt.Sprintf("invalid column identifier %q", col)}
			}
		}
	}
	rec := DMLRecord{Kind: step.Type, Table: step.Table}
	var b sqlBuilder

	switch step.Type {
	case recipe.DMLUpdate:
		b.lit("UPDATE " + step.Table + " SET ")
		for i, col := range step.Set.Keys() {
			if i > 0 {
				b.lit(", ")
			}
			b.lit(col + " = ")
			if _, err := b.frag(step.Set.Get(col), lookup); err != nil {
				return DMLRecord{}, err
			}
		}
		b.lit(" WHERE ")
		where, err := b.frag(step.Where, lookup)
		if err != nil {
			return DMLRecord{}, err
		}
		rec.where = where
		rec.Description = fmt.Sprintf("update %s of %s", columnList(step.Set.Keys()), step.Table)

	case recipe.DMLInsert:
		cols := step.Values.Keys()
		b.lit("INSERT INTO " + step.Table + " (" + strings.Join(cols, ", ") + ") VALUES (")
		for i, col := range cols {
			if i > 0 {
				b.lit(", ")
			}
			if _, err := b.frag(step.Values.Get(col), lookup); err != nil {
				return DMLRecord{}, err
			}
		}
		b.lit(")")
		rec.Description = fmt.Sprintf("insert one row into %s", step.Table)

	case recipe.DMLDelete:
		b.lit("DELETE FROM " + step.Table + " WHERE ")
		where, err := b.frag(step.Where, lookup)
		if err != nil {
			return DMLRecord{}, err
		}
		rec.where = where
		rec.Description = fmt.Sprintf("delete rows from %s", step.Table)

	default:
		return DMLRecord{}, &render.Error{Reason: fmt.Sprintf("unknown DML type %q", step.Type)}
	}

	rec.RenderedSQL = b.text.String()
	rec.TemplateSQL = b.templ.String()
	rec.Parameters = b.params
	return rec, nil
}

func columnList(cols []string) string {
	if len(cols) == 1 {
		return cols[0]
	}
	return fmt.Sprintf("%d columns", len(cols))
}

// AffectedTables returns the distinct target tables in first-appearance
// order.
func AffectedTables(records []DMLRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, r := range records {
		if _, ok := seen[r.Table]; ok {
			continue
		}
		seen[r.Table] = struct{}{}
		out = append(out, r.Table)
	}
	return out
}

// ClassifyRisk grades the accumulated DML. High: any UPDATE or DELETE whose
// WHERE clause is empty or carries no comparison at all. Medium: any DELETE,
// or UPDATEs spanning more than one table. Low otherwise.
func ClassifyRisk(records []DMLRecord) Risk {
	updateTables := make(map[string]struct{})
	anyDelete := false
	for _, r := range records {
		switch r.Kind {
		case recipe.DMLUpdate:
			updateTables[r.Table] = struct{}{}
		case recipe.DMLDelete:
			anyDelete = true
		default:
			continue
		}
		w := strings.TrimSpace(r.where)
		if w == "" || !hasComparison(w) {
			return RiskHigh
		}
	}
	if anyDelete || len(updateTables) > 1 {
		return RiskMedium
	}
	return RiskLow
}

// hasComparison reports whether a WHERE clause constrains anything at all.
// A clause like "1" or "TRUE" matches every row and is treated as absent.
func hasComparison(where string) bool {
	if strings.ContainsAny(where, "=<>") {
		return true
	}
	u := " " + strings.ToUpper(where) + " "
	for _, kw := range []string{" LIKE ", " IN ", " IS "} {
		if strings.Contains(u, kw) {
			return true
		}
	}
	return false
}
