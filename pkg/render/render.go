// Package render substitutes {name} placeholders into message and SQL
// templates. It is the only path by which external data reaches a SQL
// string, so the SQL modes own the quoting and escaping rules.
package render

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Lookup resolves a variable name against the run context.
type Lookup func(name string) (any, bool)

// Mode selects how substituted values are encoded.
type Mode int

const (
	// Raw substitutes the value's plain string form. Log and message
	// payloads only — never SQL.
	Raw Mode = iota
	// SQLLiteral substitutes a SQL literal: strings single-quoted with
	// embedded quotes doubled, numbers as decimal, booleans as TRUE/FALSE,
	// null as NULL.
	SQLLiteral
	// SQLIdentifier rejects any value that is not a bare SQL identifier.
	SQLIdentifier
)

// Error is a render failure. Missing is set when a placeholder had no
// context entry; Reason covers encoding rejections.
type Error struct {
	Missing string
	Reason  string
}

func (e *Error) Error() string {
	if e.Missing != "" {
		return fmt.Sprintf("missing variable {%s}", e.Missing)
	}
	return e.Reason
}

var (
	placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	identifierRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ValidIdentifier reports whether s is a bare SQL identifier.
func ValidIdentifier(s string) bool { return identifierRe.MatchString(s) }

// Placeholders returns the distinct placeholder names in tmpl, in first
// appearance order.
func Placeholders(tmpl string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// Render substitutes every {name} placeholder in tmpl. A placeholder whose
// key is absent from the context fails with *Error. Text outside
// placeholders — including function-like tokens such as NOW() — is left
// untouched.
func Render(tmpl string, lookup Lookup, mode Mode) (string, error) {
	var sb strings.Builder
	err := substitute(tmpl, func(name string) error {
		val, ok := lookup(name)
		if !ok {
			return &Error{Missing: name}
		}
		enc, err := encode(val, mode)
		if err != nil {
			return err
		}
		sb.WriteString(enc)
		return nil
	}, sb.WriteString)
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RenderLenient is Raw-mode rendering where missing keys keep their literal
// placeholder text. Used for RETURN_ERROR messages so operators still get a
// message when the context is incomplete.
func RenderLenient(tmpl string, lookup Lookup) string {
	var sb strings.Builder
	substitute(tmpl, func(name string) error {
		val, ok := lookup(name)
		if !ok {
			sb.WriteString("{" + name + "}")
			return nil
		}
		sb.WriteString(FormatScalar(val))
		return nil
	}, sb.WriteString)
	return sb.String()
}

// Param is one (name, value) pair of the parameterized SQL form.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// SQL is the result of rendering a SQL fragment: the literal text, the
// parameterized template with ? placeholders, and the parameters in
// left-to-right occurrence order. Substituting Params into Template
// positionally with SQLLiteral encoding reproduces Text.
type SQL struct {
	Text     string
	Template string
	Params   []Param
}

// RenderSQL renders a SQL fragment in both literal and parameterized form.
func RenderSQL(tmpl string, lookup Lookup) (SQL, error) {
	var out SQL
	var text, templ strings.Builder
	err := substitute(tmpl, func(name string) error {
		val, ok := lookup(name)
		if !ok {
			return &Error{Missing: name}
		}
		enc, err := encode(val, SQLLiteral)
		if err != nil {
			return err
		}
		text.WriteString(enc)
		templ.WriteString("?")
		out.Params = append(out.Params, Param{Name: name, Value: val})
		return nil
	}, func(lit string) (int, error) {
		text.WriteString(lit)
		return templ.WriteString(lit)
	})
	if err != nil {
		return SQL{}, err
	}
	out.Text = text.String()
	out.Template = templ.String()
	return out, nil
}

// substitute walks tmpl, calling onVar for each placeholder and onText for
// the literal spans between them.
func substitute(tmpl string, onVar func(name string) error, onText func(s string) (int, error)) error {
	last := 0
	for _, m := range placeholderRe.FindAllStringSubmatchIndex(tmpl, -1) {
		if _, err := onText(tmpl[last:m[0]]); err != nil {
			return err
		}
		if err := onVar(tmpl[m[2]:m[3]]); err != nil {
			return err
		}
		last = m[1]
	}
	_, err := onText(tmpl[last:])
	return err
}

// FormatScalar returns the plain string form of a context value.
func FormatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Literal encodes a context value as a SQL literal.
func Literal(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		if strings.ContainsAny(x, "\x00\r\n") {
			return "", &Error{Reason: fmt.Sprintf("control character in value for SQL literal: %q", x)}
		}
		return "'" + strings.ReplaceAll(x, "'", "''") + "'", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", &Error{Reason: fmt.Sprintf("unsupported value type %T for SQL literal", v)}
	}
}

func encode(v any, mode Mode) (string, error) {
	switch mode {
	case Raw:
		return FormatScalar(v), nil
	case SQLLiteral:
		return Literal(v)
	case SQLIdentifier:
		s, ok := v.(string)
		if !ok || !ValidIdentifier(s) {
			return "", &Error{Reason: fmt.Sprintf("value %v is not a valid SQL identifier", v)}
		}
		return s, nil
	default:
		return "", &Error{Reason: fmt.Sprintf("unknown render mode %d", mode)}
	}
}
