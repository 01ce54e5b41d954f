package predicate

// AST node types. The tree is a closed set evaluated by a switch; there is
// deliberately no function-call, attribute-access, or index node.

type node interface{ isNode() }

type orNode struct{ left, right node }
type andNode struct{ left, right node }
type notNode struct{ inner node }

// cmpNode is <atom> <cmp> <atom>.
type cmpNode struct {
	op    tokenKind // tokEq .. tokGe
	pos   int
	left  atom
	right atom
}

// inNode is <atom> [not] in <list-literal>.
type inNode struct {
	negate bool
	pos    int
	needle atom
	list   []atom
}

func (orNode) isNode()  {}
func (andNode) isNode() {}
func (notNode) isNode() {}
func (cmpNode) isNode() {}
func (inNode) isNode()  {}

type atom struct {
	isVar bool
	name  string // variable name when isVar
	value any    // literal value otherwise: string, float64, bool, nil
}

type parser struct {
	toks []token
	pos  int
}

// Parse compiles predicate text into an AST. The grammar, in precedence
// order (loosest first):
//
//	or   := and ("or" and)*
//	and  := not ("and" not)*
//	not  := "not" not | term
//	term := "(" or ")" | atom cmp atom | atom ["not"] "in" list
func Parse(src string) (node, error) {
	toks, lerr := lex(src)
	if lerr != nil {
		return nil, lerr
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, errAt(p.peek().pos, "unexpected trailing input")
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parseTerm()
}

func (p *parser) parseTerm() (node, error) {
	if p.peek().kind == tokLParen {
		p.next()
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, errAt(t.pos, "expected ')'")
		}
		return n, nil
	}

	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}

	t := p.next()
	switch t.kind {
	case tokEq, tokNe, tokLt, tokLe, tokGt, tokGe:
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return cmpNode{op: t.kind, pos: t.pos, left: left, right: right}, nil

	case tokIn:
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return inNode{pos: t.pos, needle: left, list: list}, nil

	case tokNot:
		if t2 := p.next(); t2.kind != tokIn {
			return nil, errAt(t2.pos, "expected 'in' after 'not'")
		}
		list, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return inNode{negate: true, pos: t.pos, needle: left, list: list}, nil

	default:
		return nil, errAt(t.pos, "expected a comparison or membership operator")
	}
}

func (p *parser) parseAtom() (atom, error) {
	t := p.next()
	switch t.kind {
	case tokVar:
		return atom{isVar: true, name: t.str}, nil
	case tokString:
		return atom{value: t.str}, nil
	case tokNumber:
		return atom{value: t.num}, nil
	case tokTrue:
		return atom{value: true}, nil
	case tokFalse:
		return atom{value: false}, nil
	case tokNull:
		return atom{value: nil}, nil
	default:
		return atom{}, errAt(t.pos, "expected a value")
	}
}

func (p *parser) parseList() ([]atom, error) {
	if t := p.next(); t.kind != tokLBracket {
		return nil, errAt(t.pos, "expected '['")
	}
	var list []atom
	if p.peek().kind == tokRBracket {
		p.next()
		return list, nil // empty list: membership is always false
	}
	for {
		a, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		list = append(list, a)
		t := p.next()
		if t.kind == tokRBracket {
			return list, nil
		}
		if t.kind != tokComma {
			return nil, errAt(t.pos, "expected ',' or ']'")
		}
	}
}
