// ABOUTME: Calculator module evaluating arithmetic expressions without host access.

package modules

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/2389/toolshell/internal/registry"
)

// Calculator evaluates +, -, *, /, %, ^ and parentheses.
type Calculator struct{}

type calculatorInput struct {
	Expression string `json:"expression"`
}

// Run evaluates the expression in input.
func (c *Calculator) Run(ctx context.Context, host registry.Host, input json.RawMessage) (json.RawMessage, error) {
	var in calculatorInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Expression) == "" {
		return nil, invalid("expression is required")
	}

	result, err := Evaluate(in.Expression)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"expression": in.Expression,
		"result":     result,
		"display":    strconv.FormatFloat(result, 'g', -1, 64),
	})
}

// Evaluate parses and evaluates an arithmetic expression.
func Evaluate(expr string) (float64, error) {
	p := &exprParser{src: expr}
	v, err := p.parseSum()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return 0, invalid("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, invalid("result is not a finite number")
	}
	return v, nil
}

// exprParser is a recursive descent parser over
//
//	sum     = product { ("+" | "-") product }
//	product = unary { ("*" | "/" | "%") unary }
//	unary   = ( "-" | "+" ) unary | power
//	power   = primary [ "^" unary ]
//	primary = number | "(" sum ")"
type exprParser struct {
	src string
	pos int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) parseSum() (float64, error) {
	left, err := p.parseProduct()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.parseProduct()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

func (p *exprParser) parseProduct() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, invalid("division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, invalid("division by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.pos++
	exp, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parsePower()
}

func (p *exprParser) parsePrimary() (float64, error) {
	switch ch := p.peek(); {
	case ch == '(':
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, invalid("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case ch == '.' || (ch >= '0' && ch <= '9'):
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] == '.' || (p.src[p.pos] >= '0' && p.src[p.pos] <= '9')) {
			p.pos++
		}
		v, err := strconv.ParseFloat(p.src[start:p.pos], 64)
		if err != nil {
			return 0, invalid("bad number %q", p.src[start:p.pos])
		}
		return v, nil
	case ch == 0:
		return 0, invalid("unexpected end of expression")
	default:
		return 0, invalid("unexpected %q at position %d", ch, p.pos)
	}
}
