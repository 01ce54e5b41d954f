package predicate

// Lookup resolves a variable name against the run context. An absent key
// resolves to null rather than failing, matching how recipes probe for
// optional associations ({marine_order_id} != null).
type Lookup func(name string) (any, bool)

// Eval parses and evaluates a predicate against the context. The result is
// always a bool or an *Error — never anything else, and never host code.
func Eval(src string, lookup Lookup) (bool, error) {
	n, err := Parse(src)
	if err != nil {
		return false, err
	}
	return evalNode(n, lookup)
}

func evalNode(n node, lookup Lookup) (bool, error) {
	switch x := n.(type) {
	case orNode:
		l, err := evalNode(x.left, lookup)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil
		}
		return evalNode(x.right, lookup)
	case andNode:
		l, err := evalNode(x.left, lookup)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil
		}
		return evalNode(x.right, lookup)
	case notNode:
		v, err := evalNode(x.inner, lookup)
		if err != nil {
			return false, err
		}
		return !v, nil
	case cmpNode:
		return evalCmp(x, lookup)
	case inNode:
		return evalIn(x, lookup)
	default:
		return false, errAt(-1, "internal: unknown node type %T", n)
	}
}

func resolve(a atom, lookup Lookup) any {
	if !a.isVar {
		return a.value
	}
	v, ok := lookup(a.name)
	if !ok {
		return nil
	}
	return v
}

func evalCmp(c cmpNode, lookup Lookup) (bool, error) {
	l := resolve(c.left, lookup)
	r := resolve(c.right, lookup)

	switch c.op {
	case tokEq:
		return equal(l, r), nil
	case tokNe:
		return !equal(l, r), nil
	}

	// Ordering. null never orders; cross-type ordering is an error.
	if l == nil || r == nil {
		return false, nil
	}
	lf, lNum := toNumber(l)
	rf, rNum := toNumber(r)
	if lNum && rNum {
		return orderResult(c.op, compareFloat(lf, rf)), nil
	}
	ls, lStr := l.(string)
	rs, rStr := r.(string)
	if lStr && rStr {
		return orderResult(c.op, compareString(ls, rs)), nil
	}
	return false, errAt(c.pos, "cannot order %s and %s", typeName(l), typeName(r))
}

func evalIn(n inNode, lookup Lookup) (bool, error) {
	needle := resolve(n.needle, lookup)
	found := false
	for _, a := range n.list {
		if equal(needle, resolve(a, lookup)) {
			found = true
			break
		}
	}
	if n.negate {
		return !found, nil
	}
	return found, nil
}

// equal implements the typing rules: null equals only null, numerics compare
// numerically, strings and booleans by value, cross-type equality is false.
func equal(l, r any) bool {
	if l == nil || r == nil {
		return l == nil && r == nil
	}
	if lf, ok := toNumber(l); ok {
		rf, rok := toNumber(r)
		return rok && lf == rf
	}
	if ls, ok := l.(string); ok {
		rs, rok := r.(string)
		return rok && ls == rs
	}
	if lb, ok := l.(bool); ok {
		rb, rok := r.(bool)
		return rok && lb == rb
	}
	return false
}

// toNumber widens every numeric representation the context can hold.
// Booleans are deliberately not numbers.
func toNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func orderResult(op tokenKind, cmp int) bool {
	switch op {
	case tokLt:
		return cmp < 0
	case tokLe:
		return cmp <= 0
	case tokGt:
		return cmp > 0
	case tokGe:
		return cmp >= 0
	}
	return false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		if _, ok := toNumber(v); ok {
			return "number"
		}
		return "value"
	}
}
