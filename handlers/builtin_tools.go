package handlers

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"wick_chat/agent"
	"wick_chat/docs"
)

// NewBuiltinTools returns the tools every chat agent can call. Document
// search reads the store of the chat the run belongs to.
func NewBuiltinTools(store *docs.Store) []agent.Tool {
	return []agent.Tool{
		&agent.FuncTool{
			ToolName: "calculate",
			ToolDesc: "Evaluate a mathematical expression. Supports +, -, *, /, ^, %, parentheses and sqrt().",
			ToolParams: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string", "description": "Mathematical expression to evaluate"},
				},
				"required": []string{"expression"},
			},
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				expr, _ := args["expression"].(string)
				if expr == "" {
					return "Error: expression is required", nil
				}
				return calculate(expr), nil
			},
		},
		&agent.FuncTool{
			ToolName:   "current_datetime",
			ToolDesc:   "Get the current date and time in UTC and local timezone.",
			ToolParams: map[string]any{"type": "object", "properties": map[string]any{}},
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				now := time.Now()
				return fmt.Sprintf("UTC: %s\nLocal: %s",
					now.UTC().Format(time.RFC3339),
					now.Format(time.RFC3339),
				), nil
			},
		},
		&agent.FuncTool{
			ToolName: "search_documents",
			ToolDesc: "Search the documents the user uploaded to this chat. Returns the most relevant passages with their source.",
			ToolParams: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "What to look for"},
				},
				"required": []string{"query"},
			},
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				query, _ := args["query"].(string)
				if query == "" {
					return "Error: query is required", nil
				}
				chatID := agent.ChatIDFromContext(ctx)
				found := store.Search(chatID, query, 4)
				if len(found) == 0 {
					return "No matching passages in the uploaded documents.", nil
				}
				return docs.FormatContext(found), nil
			},
		},
	}
}

// calculate evaluates expr and formats the result, or an error line the
// model can read.
func calculate(expr string) string {
	p := &exprParser{src: []rune(expr)}
	val, err := p.parse()
	if err != nil {
		return "Error: " + err.Error()
	}
	if math.IsInf(val, 0) || math.IsNaN(val) {
		return "Error: result is not a finite number"
	}
	return strconv.FormatFloat(val, 'g', -1, 64)
}

// exprParser is a recursive-descent evaluator:
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/" | "%") unary }
//	unary  = ("-" | "+") unary | power
//	power  = atom [ "^" unary ]
//	atom   = number | "(" expr ")" | "sqrt" "(" expr ")"
type exprParser struct {
	src []rune
	pos int
}

func (p *exprParser) parse() (float64, error) {
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if p.skip(); p.pos < len(p.src) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.src[p.pos], p.pos)
	}
	return v, nil
}

func (p *exprParser) skip() {
	for p.pos < len(p.src) && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

func (p *exprParser) peek() rune {
	p.skip()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.term()
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

func (p *exprParser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left = math.Mod(left, right)
		}
	}
}

func (p *exprParser) power() (float64, error) {
	base, err := p.atom()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.pos++
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *exprParser) unary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.unary()
		return -v, err
	case '+':
		p.pos++
		return p.unary()
	}
	return p.power()
}

func (p *exprParser) atom() (float64, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	case strings.HasPrefix(string(p.src[p.pos:]), "sqrt"):
		p.pos += len("sqrt")
		if p.peek() != '(' {
			return 0, fmt.Errorf("sqrt needs parentheses")
		}
		v, err := p.atom()
		if err != nil {
			return 0, err
		}
		if v < 0 {
			return 0, fmt.Errorf("sqrt of negative number")
		}
		return math.Sqrt(v), nil
	case c == '.' || unicode.IsDigit(c):
		start := p.pos
		for p.pos < len(p.src) && (p.src[p.pos] == '.' || unicode.IsDigit(p.src[p.pos])) {
			p.pos++
		}
		return strconv.ParseFloat(string(p.src[start:p.pos]), 64)
	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")
	}
	return 0, fmt.Errorf("unexpected %q at position %d", c, p.pos)
}
