package expr

import (
	"strings"
)

// Grammar, loosest binding first:
//
//	expr    := and ( '||' and )*
//	and     := cmp ( '&&' cmp )*
//	cmp     := unary ( ('=='|'!='|'<'|'<='|'>'|'>=') unary )?
//	unary   := '!' unary | primary
//	primary := '(' expr ')' | literal | template
type node interface {
	eval(ec *evalContext) (any, error)
}

// evalContext resolves template spans on demand, preserving short-circuit
// semantics for the spans on the untaken side.
type evalContext struct {
	resolve func(raw string) (any, error)
}

type literalNode struct {
	value any
}

func (n *literalNode) eval(*evalContext) (any, error) {
	return n.value, nil
}

type templateNode struct {
	raw      string
	pos      int
	resolved bool
	value    any
}

func (n *templateNode) eval(ec *evalContext) (any, error) {
	v, err := ec.resolve(n.raw)
	if err != nil {
		return nil, err
	}
	n.resolved = true
	n.value = v
	return v, nil
}

type notNode struct {
	operand node
}

func (n *notNode) eval(ec *evalContext) (any, error) {
	v, err := n.operand.eval(ec)
	if err != nil {
		return nil, err
	}
	return !Truthy(v), nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n *compareNode) eval(ec *evalContext) (any, error) {
	l, err := n.left.eval(ec)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(ec)
	if err != nil {
		return nil, err
	}
	return compare(n.op, l, r), nil
}

type andNode struct {
	left, right node
}

func (n *andNode) eval(ec *evalContext) (any, error) {
	l, err := n.left.eval(ec)
	if err != nil {
		return nil, err
	}
	if !Truthy(l) {
		return false, nil
	}
	r, err := n.right.eval(ec)
	if err != nil {
		return nil, err
	}
	return Truthy(r), nil
}

type orNode struct {
	left, right node
}

func (n *orNode) eval(ec *evalContext) (any, error) {
	l, err := n.left.eval(ec)
	if err != nil {
		return nil, err
	}
	if Truthy(l) {
		return true, nil
	}
	r, err := n.right.eval(ec)
	if err != nil {
		return nil, err
	}
	return Truthy(r), nil
}

type parser struct {
	tokens    []token
	idx       int
	templates []*templateNode
}

func parse(tokens []token) (node, []*templateNode, *syntaxError) {
	p := &parser{tokens: tokens}
	root, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, nil, errAt(tok.pos, "unexpected trailing input")
	}
	return root, p.templates, nil
}

func (p *parser) peek() token {
	return p.tokens[p.idx]
}

func (p *parser) next() token {
	tok := p.tokens[p.idx]
	if tok.kind != tokenEOF {
		p.idx++
	}
	return tok
}

func (p *parser) parseOr() (node, *syntaxError) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, *syntaxError) {
	left, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCompare() (node, *syntaxError) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenCompare {
		return left, nil
	}
	op := p.next()
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokenCompare {
		return nil, errAt(p.peek().pos, "comparisons do not chain")
	}
	return &compareNode{op: op.text, left: left, right: right}, nil
}

func (p *parser) parseUnary() (node, *syntaxError) {
	if p.peek().kind == tokenNot {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, *syntaxError) {
	tok := p.next()
	switch tok.kind {
	case tokenLeftParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokenRightParen {
			return nil, errAt(closing.pos, "expected closing parenthesis")
		}
		return inner, nil
	case tokenLiteral:
		return &literalNode{value: tok.value}, nil
	case tokenTemplate:
		n := &templateNode{raw: tok.text, pos: tok.pos}
		p.templates = append(p.templates, n)
		return n, nil
	case tokenEOF:
		return nil, errAt(tok.pos, "unexpected end of expression")
	}
	return nil, errAt(tok.pos, "unexpected token")
}

// substitute rebuilds the source with every resolved template span replaced
// by its value, for the diagnostic form of the expression. Spans skipped by
// short-circuit stay in template syntax.
func substitute(src string, templates []*templateNode) string {
	var b strings.Builder
	last := 0
	for _, t := range templates {
		if !t.resolved {
			continue
		}
		b.WriteString(src[last:t.pos])
		b.WriteString(operandRepr(t.value))
		last = t.pos + len(t.raw)
	}
	b.WriteString(src[last:])
	return b.String()
}
