package whey

import (
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	"golang.org/x/xerrors"
)

// MarkerEnv holds the values of PEP 508 environment marker variables, e.g.
// python_version or sys_platform.
type MarkerEnv map[string]string

// With returns a copy of e with key set to value.
func (e MarkerEnv) With(key, value string) MarkerEnv {
	c := make(MarkerEnv, len(e)+1)
	for k, v := range e {
		c[k] = v
	}
	c[key] = value
	return c
}

// EvaluateMarker evaluates a PEP 508 marker expression in env.
func EvaluateMarker(marker string, env MarkerEnv) (bool, error) {
	toks, err := tokenizeMarker(marker)
	if err != nil {
		return false, xerrors.Errorf("marker %q: %w", marker, err)
	}
	p := &markerParser{toks: toks, env: env}
	v, err := p.or()
	if err != nil {
		return false, xerrors.Errorf("marker %q: %w", marker, err)
	}
	if p.pos != len(p.toks) {
		return false, xerrors.Errorf("marker %q: unexpected %q", marker, p.toks[p.pos].text)
	}
	return v, nil
}

type markerTokenKind int

const (
	tokIdent markerTokenKind = iota
	tokString
	tokOp
	tokLParen
	tokRParen
)

type markerToken struct {
	kind markerTokenKind
	text string
}

func tokenizeMarker(s string) ([]markerToken, error) {
	var toks []markerToken
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, markerToken{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, markerToken{tokRParen, ")"})
			i++
		case c == '"' || c == '\'':
			end := strings.IndexByte(s[i+1:], c)
			if end == -1 {
				return nil, xerrors.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, markerToken{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case strings.IndexByte("<>=!~", c) > -1:
			j := i
			for j < len(s) && strings.IndexByte("<>=!~", s[j]) > -1 {
				j++
			}
			toks = append(toks, markerToken{tokOp, s[i:j]})
			i = j
		case c == '_' || c == '.' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9'):
			j := i
			for j < len(s) {
				d := s[j]
				if d == '_' || d == '.' || ('a' <= d && d <= 'z') || ('A' <= d && d <= 'Z') || ('0' <= d && d <= '9') {
					j++
					continue
				}
				break
			}
			toks = append(toks, markerToken{tokIdent, s[i:j]})
			i = j
		default:
			return nil, xerrors.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

type markerParser struct {
	toks []markerToken
	pos  int
	env  MarkerEnv
}

func (p *markerParser) peekIdent(word string) bool {
	return p.pos < len(p.toks) && p.toks[p.pos].kind == tokIdent && p.toks[p.pos].text == word
}

func (p *markerParser) or() (bool, error) {
	v, err := p.and()
	if err != nil {
		return false, err
	}
	for p.peekIdent("or") {
		p.pos++
		rhs, err := p.and()
		if err != nil {
			return false, err
		}
		v = v || rhs
	}
	return v, nil
}

func (p *markerParser) and() (bool, error) {
	v, err := p.atom()
	if err != nil {
		return false, err
	}
	for p.peekIdent("and") {
		p.pos++
		rhs, err := p.atom()
		if err != nil {
			return false, err
		}
		v = v && rhs
	}
	return v, nil
}

func (p *markerParser) atom() (bool, error) {
	if p.pos >= len(p.toks) {
		return false, xerrors.New("unexpected end of marker")
	}
	if p.toks[p.pos].kind == tokLParen {
		p.pos++
		v, err := p.or()
		if err != nil {
			return false, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return false, xerrors.New("missing )")
		}
		p.pos++
		return v, nil
	}
	lhs, lhsVar, err := p.value()
	if err != nil {
		return false, err
	}
	op, err := p.op()
	if err != nil {
		return false, err
	}
	rhs, rhsVar, err := p.value()
	if err != nil {
		return false, err
	}
	if lhsVar == "extra" || rhsVar == "extra" {
		lhs, rhs = NormalizeName(lhs), NormalizeName(rhs)
	}
	return compareMarker(lhs, op, rhs)
}

// value returns the value of a string literal or variable, and the variable
// name if it was a variable.
func (p *markerParser) value() (string, string, error) {
	if p.pos >= len(p.toks) {
		return "", "", xerrors.New("unexpected end of marker")
	}
	t := p.toks[p.pos]
	p.pos++
	switch t.kind {
	case tokString:
		return t.text, "", nil
	case tokIdent:
		v, ok := p.env[t.text]
		if !ok {
			return "", "", xerrors.Errorf("unknown marker variable %q", t.text)
		}
		return v, t.text, nil
	}
	return "", "", xerrors.Errorf("unexpected %q", t.text)
}

func (p *markerParser) op() (string, error) {
	if p.pos >= len(p.toks) {
		return "", xerrors.New("unexpected end of marker")
	}
	t := p.toks[p.pos]
	p.pos++
	switch {
	case t.kind == tokOp:
		return t.text, nil
	case t.kind == tokIdent && t.text == "in":
		return "in", nil
	case t.kind == tokIdent && t.text == "not" && p.peekIdent("in"):
		p.pos++
		return "not in", nil
	}
	return "", xerrors.Errorf("expected operator, got %q", t.text)
}

func compareMarker(lhs, op, rhs string) (bool, error) {
	switch op {
	case "in":
		return strings.Contains(rhs, lhs), nil
	case "not in":
		return !strings.Contains(rhs, lhs), nil
	case "===":
		return lhs == rhs, nil
	}
	switch op {
	case "==", "!=", "<", "<=", ">", ">=", "~=":
	default:
		return false, xerrors.Errorf("invalid operator %q", op)
	}
	if _, err := pep440.Parse(lhs); err == nil {
		if spec, err := ParseSpecifier(op + rhs); err == nil {
			return spec.Allows(lhs, true), nil
		}
	}
	switch op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	}
	return false, xerrors.Errorf("operator %q needs versions, got %q and %q", op, lhs, rhs)
}
