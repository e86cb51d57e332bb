// parse.go - GBNF-Parser
// Zerlegt GBNF-Text in Regeln. Unterstuetzt Literale, Zeichenklassen
// (inkl. Bereiche und Negation), Alternation, Gruppen und die
// Wiederholungsoperatoren * + ?. Wiederholungen werden beim Parsen in
// synthetische Regeln aufgeloest, damit die Parse-Maschine nur noch
// Referenzen und Zeichenklassen sieht.
package grammar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/7blacky7/infera/api"
)

type elemKind uint8

const (
	elemRef elemKind = iota
	elemClass
)

type charRange struct {
	lo, hi rune
}

// element ist ein Symbol einer Regel-Alternative: entweder eine Referenz auf
// eine andere Regel oder eine Zeichenklasse (ein Literal-Zeichen ist eine
// Klasse mit genau einem Bereich).
type element struct {
	kind    elemKind
	name    string
	ranges  []charRange
	negated bool
}

func (e element) matches(r rune) bool {
	if e.kind != elemClass {
		return false
	}
	for _, cr := range e.ranges {
		if r >= cr.lo && r <= cr.hi {
			return !e.negated
		}
	}
	return e.negated
}

type alternate []element

type ruleSet map[string][]alternate

// ---------------------------------------------------------------------------
// Lexer

type tokenKind uint8

const (
	tokEOF tokenKind = iota
	tokName
	tokAssign
	tokPipe
	tokLParen
	tokRParen
	tokStar
	tokPlus
	tokQuest
	tokLiteral
	tokClass
)

type token struct {
	kind    tokenKind
	text    string      // tokName, tokLiteral (dekodiert)
	ranges  []charRange // tokClass
	negated bool
}

type lexer struct {
	src []rune
	pos int
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		switch r := l.src[l.pos]; {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			l.pos++
		case r == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			goto scan
		}
	}
	return token{kind: tokEOF}, nil

scan:
	switch r := l.src[l.pos]; {
	case r == ':':
		if l.pos+2 < len(l.src) && l.src[l.pos+1] == ':' && l.src[l.pos+2] == '=' {
			l.pos += 3
			return token{kind: tokAssign}, nil
		}
		return token{}, fmt.Errorf("%w: unexpected ':' at offset %d", api.ErrGrammar, l.pos)
	case r == '|':
		l.pos++
		return token{kind: tokPipe}, nil
	case r == '(':
		l.pos++
		return token{kind: tokLParen}, nil
	case r == ')':
		l.pos++
		return token{kind: tokRParen}, nil
	case r == '*':
		l.pos++
		return token{kind: tokStar}, nil
	case r == '+':
		l.pos++
		return token{kind: tokPlus}, nil
	case r == '?':
		l.pos++
		return token{kind: tokQuest}, nil
	case r == '"':
		return l.literal()
	case r == '[':
		return l.class()
	case isNameRune(r):
		start := l.pos
		for l.pos < len(l.src) && isNameRune(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokName, text: string(l.src[start:l.pos])}, nil
	default:
		return token{}, fmt.Errorf("%w: unexpected character %q at offset %d", api.ErrGrammar, r, l.pos)
	}
}

func isNameRune(r rune) bool {
	return r == '-' || r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func (l *lexer) literal() (token, error) {
	l.pos++ // "
	var sb strings.Builder
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		switch r {
		case '"':
			l.pos++
			return token{kind: tokLiteral, text: sb.String()}, nil
		case '\\':
			dec, err := l.escape()
			if err != nil {
				return token{}, err
			}
			sb.WriteRune(dec)
		default:
			sb.WriteRune(r)
			l.pos++
		}
	}
	return token{}, fmt.Errorf("%w: unterminated literal", api.ErrGrammar)
}

func (l *lexer) class() (token, error) {
	l.pos++ // [
	var tok token
	tok.kind = tokClass
	if l.peekRune() == '^' {
		tok.negated = true
		l.pos++
	}

	for l.pos < len(l.src) {
		if l.src[l.pos] == ']' {
			l.pos++
			if len(tok.ranges) == 0 {
				return token{}, fmt.Errorf("%w: empty character class", api.ErrGrammar)
			}
			return tok, nil
		}

		lo, err := l.classChar()
		if err != nil {
			return token{}, err
		}
		hi := lo
		if l.peekRune() == '-' && l.pos+1 < len(l.src) && l.src[l.pos+1] != ']' {
			l.pos++ // -
			hi, err = l.classChar()
			if err != nil {
				return token{}, err
			}
			if hi < lo {
				return token{}, fmt.Errorf("%w: invalid range %q-%q", api.ErrGrammar, lo, hi)
			}
		}
		tok.ranges = append(tok.ranges, charRange{lo, hi})
	}
	return token{}, fmt.Errorf("%w: unterminated character class", api.ErrGrammar)
}

func (l *lexer) classChar() (rune, error) {
	if l.src[l.pos] == '\\' {
		return l.escape()
	}
	r := l.src[l.pos]
	l.pos++
	return r, nil
}

// escape dekodiert eine Escape-Sequenz beginnend beim Backslash.
func (l *lexer) escape() (rune, error) {
	l.pos++ // backslash
	if l.pos >= len(l.src) {
		return 0, fmt.Errorf("%w: dangling escape", api.ErrGrammar)
	}
	r := l.src[l.pos]
	l.pos++
	switch r {
	case 'n':
		return '\n', nil
	case 't':
		return '\t', nil
	case 'r':
		return '\r', nil
	case '"', '\\', '/', '[', ']', '^', '-':
		return r, nil
	case 'x':
		return l.hexRune(2)
	case 'u':
		return l.hexRune(4)
	case 'U':
		return l.hexRune(8)
	default:
		return 0, fmt.Errorf("%w: unknown escape \\%c", api.ErrGrammar, r)
	}
}

func (l *lexer) hexRune(n int) (rune, error) {
	if l.pos+n > len(l.src) {
		return 0, fmt.Errorf("%w: truncated hex escape", api.ErrGrammar)
	}
	v, err := strconv.ParseUint(string(l.src[l.pos:l.pos+n]), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid hex escape: %v", api.ErrGrammar, err)
	}
	l.pos += n
	return rune(v), nil
}

// ---------------------------------------------------------------------------
// Parser

type parser struct {
	toks  []token
	pos   int
	rules ruleSet
	// synthCount zaehlt synthetische Regeln je Basisregel (fuer * + ? und Gruppen)
	synthCount map[string]int
	base       string
}

func parseGBNF(text string) (ruleSet, error) {
	lex := &lexer{src: []rune(text)}
	var toks []token
	for {
		tok, err := lex.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			break
		}
	}

	p := &parser{toks: toks, rules: ruleSet{}, synthCount: map[string]int{}}
	for p.peek().kind != tokEOF {
		if err := p.rule(); err != nil {
			return nil, err
		}
	}
	if len(p.rules) == 0 {
		return nil, fmt.Errorf("%w: no rules defined", api.ErrGrammar)
	}
	return p.rules, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) peek2() token {
	if p.pos+1 < len(p.toks) {
		return p.toks[p.pos+1]
	}
	return token{kind: tokEOF}
}

func (p *parser) advance() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

// atRuleBoundary erkennt den Beginn der naechsten Regel (name ::=).
func (p *parser) atRuleBoundary() bool {
	return p.peek().kind == tokName && p.peek2().kind == tokAssign
}

func (p *parser) rule() error {
	name := p.advance()
	if name.kind != tokName {
		return fmt.Errorf("%w: expected rule name", api.ErrGrammar)
	}
	if assign := p.advance(); assign.kind != tokAssign {
		return fmt.Errorf("%w: expected '::=' after rule name %q", api.ErrGrammar, name.text)
	}
	if _, exists := p.rules[name.text]; exists {
		return fmt.Errorf("%w: duplicate rule %q", api.ErrGrammar, name.text)
	}

	p.base = name.text
	alts, err := p.alternates()
	if err != nil {
		return err
	}
	p.rules[name.text] = alts
	return nil
}

func (p *parser) alternates() ([]alternate, error) {
	var alts []alternate
	for {
		seq, err := p.sequence()
		if err != nil {
			return nil, err
		}
		alts = append(alts, seq)
		if p.peek().kind != tokPipe {
			return alts, nil
		}
		p.advance() // |
	}
}

func (p *parser) sequence() (alternate, error) {
	seq := alternate{}
	// lastSym markiert den Beginn des letzten Symbols, damit * + ? das
	// gesamte Symbol erfassen (auch mehrstellige Literale und Gruppen).
	lastSym := 0

	for {
		if p.atRuleBoundary() {
			return seq, nil
		}

		switch tok := p.peek(); tok.kind {
		case tokEOF, tokPipe, tokRParen:
			return seq, nil

		case tokName:
			p.advance()
			lastSym = len(seq)
			seq = append(seq, element{kind: elemRef, name: tok.text})

		case tokLiteral:
			p.advance()
			lastSym = len(seq)
			for _, r := range tok.text {
				seq = append(seq, element{kind: elemClass, ranges: []charRange{{r, r}}})
			}

		case tokClass:
			p.advance()
			lastSym = len(seq)
			seq = append(seq, element{kind: elemClass, ranges: tok.ranges, negated: tok.negated})

		case tokLParen:
			p.advance()
			alts, err := p.alternates()
			if err != nil {
				return nil, err
			}
			if closing := p.advance(); closing.kind != tokRParen {
				return nil, fmt.Errorf("%w: missing ')'", api.ErrGrammar)
			}
			ref := p.synthesize(alts)
			lastSym = len(seq)
			seq = append(seq, element{kind: elemRef, name: ref})

		case tokStar, tokPlus, tokQuest:
			p.advance()
			if len(seq) == lastSym {
				return nil, fmt.Errorf("%w: repetition without preceding symbol", api.ErrGrammar)
			}
			sym := append(alternate{}, seq[lastSym:]...)
			seq = seq[:lastSym]

			var ref string
			switch tok.kind {
			case tokStar:
				// X* -> R ::= X R | ε
				ref = p.newSynthName()
				p.rules[ref] = []alternate{
					append(append(alternate{}, sym...), element{kind: elemRef, name: ref}),
					{},
				}
			case tokPlus:
				// X+ -> R ::= X R | X
				ref = p.newSynthName()
				p.rules[ref] = []alternate{
					append(append(alternate{}, sym...), element{kind: elemRef, name: ref}),
					sym,
				}
			case tokQuest:
				// X? -> R ::= X | ε
				ref = p.synthesize([]alternate{sym, {}})
			}
			seq = append(seq, element{kind: elemRef, name: ref})

		default:
			return nil, fmt.Errorf("%w: unexpected token in rule %q", api.ErrGrammar, p.base)
		}
	}
}

func (p *parser) newSynthName() string {
	p.synthCount[p.base]++
	return fmt.Sprintf("%s-%d", p.base, p.synthCount[p.base])
}

func (p *parser) synthesize(alts []alternate) string {
	name := p.newSynthName()
	p.rules[name] = alts
	return name
}
