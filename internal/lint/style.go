package lint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"gopkg.in/yaml.v3"
)

// Style rule names, as written in .sass-lint.yml.
const (
	RuleNoImportant        = "no-important"
	RuleNoIDs              = "no-ids"
	RuleTrailingWhitespace = "no-trailing-whitespace"
	RuleFinalNewline       = "final-newline"
)

// StyleRules maps rule names to severities. A severity of 0 disables a rule.
type StyleRules map[string]Severity

// DefaultStyleRules are used when no rules file exists.
func DefaultStyleRules() StyleRules {
	return StyleRules{
		RuleNoImportant:        SeverityWarning,
		RuleNoIDs:              SeverityWarning,
		RuleTrailingWhitespace: SeverityWarning,
		RuleFinalNewline:       SeverityWarning,
	}
}

type rulesFile struct {
	Options map[string]any       `yaml:"options"`
	Files   map[string]any       `yaml:"files"`
	Rules   map[string]yaml.Node `yaml:"rules"`
}

// ParseStyleRules decodes a .sass-lint.yml document. A rule value is either a
// severity or a [severity, options] pair; options are ignored.
func ParseStyleRules(b []byte) (StyleRules, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	rules := DefaultStyleRules()
	for name, node := range doc.Rules {
		n := node
		if n.Kind == yaml.SequenceNode {
			if len(n.Content) == 0 {
				return nil, fmt.Errorf("rule %q: empty value", name)
			}
			n = *n.Content[0]
		}
		var sev int
		if err := n.Decode(&sev); err != nil {
			return nil, fmt.Errorf("rule %q: severity must be 0, 1 or 2: %w", name, err)
		}
		if sev < 0 || sev > 2 {
			return nil, fmt.Errorf("rule %q: severity must be 0, 1 or 2, got %d", name, sev)
		}
		rules[name] = Severity(sev)
	}
	return rules, nil
}

// LoadStyleRules reads a rules file; a missing file yields the defaults.
func LoadStyleRules(path string) (StyleRules, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultStyleRules(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return ParseStyleRules(b)
}

// StyleLinter applies StyleRules to SCSS and Sass sources. Unbalanced braces
// in SCSS are always reported as parse errors.
type StyleLinter struct {
	Rules StyleRules
}

func (StyleLinter) Name() string { return "sass-lint" }

func (l StyleLinter) Lint(ctx context.Context, path string, src []byte) ([]Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rules := l.Rules
	if rules == nil {
		rules = DefaultStyleRules()
	}

	var issues []Issue
	add := func(off int, code string, sev Severity, msg string) {
		line, col := position(src, off)
		issues = append(issues, Issue{Path: path, Line: line, Column: col, Code: code, Message: msg, Severity: sev})
	}

	code := maskLineComments(src)
	indented := strings.HasSuffix(path, ".sass")
	toks, err := lexStyle(code)
	if err != nil {
		return nil, fmt.Errorf("lex %s: %w", path, err)
	}

	if !indented {
		checkBraces(toks, func(off int, msg string) { add(off, CodeParseError, SeverityError, msg) })
	}

	if sev := rules[RuleNoImportant]; sev > 0 {
		for _, off := range importantFlags(toks) {
			add(off, RuleNoImportant, sev, "!important should not be used")
		}
	}

	if sev := rules[RuleNoIDs]; sev > 0 {
		for _, off := range idSelectors(code, toks, indented) {
			add(off, RuleNoIDs, sev, "ID selectors should not be used")
		}
	}

	if sev := rules[RuleTrailingWhitespace]; sev > 0 {
		start := 0
		for _, ln := range bytes.SplitAfter(src, []byte("\n")) {
			body := bytes.TrimRight(ln, "\r\n")
			if trimmed := bytes.TrimRight(body, " \t"); len(trimmed) < len(body) {
				add(start+len(trimmed), RuleTrailingWhitespace, sev, "trailing whitespace is not allowed")
			}
			start += len(ln)
		}
	}

	if sev := rules[RuleFinalNewline]; sev > 0 && len(src) > 0 && src[len(src)-1] != '\n' {
		add(len(src), RuleFinalNewline, sev, "files must end with a new line")
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].Line != issues[j].Line {
			return issues[i].Line < issues[j].Line
		}
		return issues[i].Column < issues[j].Column
	})
	return issues, nil
}

// styleToken is a significant CSS token and its byte offset in the source.
type styleToken struct {
	typ  css.TokenType
	data []byte
	off  int
}

func (t styleToken) end() int { return t.off + len(t.data) }

// lexStyle tokenizes code, dropping whitespace and block comments.
func lexStyle(code []byte) ([]styleToken, error) {
	l := css.NewLexer(parse.NewInputBytes(code))
	var toks []styleToken
	off := 0
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			if err := l.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, err
			}
			return toks, nil
		}
		if tt != css.WhitespaceToken && tt != css.CommentToken {
			toks = append(toks, styleToken{typ: tt, data: data, off: off})
		}
		off += len(data)
	}
}

// maskLineComments blanks SCSS "//" comments, which CSS has no token for,
// keeping offsets. Strings and block comments are skipped, and "//" right
// after ':' is kept so url(http://...) survives.
func maskLineComments(src []byte) []byte {
	out := append([]byte(nil), src...)
	var quote byte
	for i := 0; i < len(out); i++ {
		c := out[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote || c == '\n' {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '/' && i+1 < len(out) && out[i+1] == '*':
			end := bytes.Index(out[i+2:], []byte("*/"))
			if end < 0 {
				return out
			}
			i += end + 3
		case c == '/' && i+1 < len(out) && out[i+1] == '/' && (i == 0 || out[i-1] != ':'):
			for ; i < len(out) && out[i] != '\n'; i++ {
				out[i] = ' '
			}
		}
	}
	return out
}

// interpolation reports whether the '{' at toks[i] opens a "#{...}".
func interpolation(toks []styleToken, i int) bool {
	if i == 0 {
		return false
	}
	prev := toks[i-1]
	return prev.typ == css.DelimToken && prev.data[0] == '#' && prev.end() == toks[i].off
}

func checkBraces(toks []styleToken, report func(off int, msg string)) {
	var open []int
	for _, t := range toks {
		switch t.typ {
		case css.LeftBraceToken:
			open = append(open, t.off)
		case css.RightBraceToken:
			if len(open) == 0 {
				report(t.off, "unexpected '}'")
				continue
			}
			open = open[:len(open)-1]
		}
	}
	for _, off := range open {
		report(off, "'{' is never closed")
	}
}

func importantFlags(toks []styleToken) []int {
	var out []int
	for i, t := range toks {
		if t.typ != css.DelimToken || t.data[0] != '!' || i+1 == len(toks) {
			continue
		}
		next := toks[i+1]
		if next.typ == css.IdentToken && strings.EqualFold(string(next.data), "important") {
			out = append(out, t.off)
		}
	}
	return out
}

func isIDHash(t styleToken) bool {
	if t.typ != css.HashToken || len(t.data) < 2 {
		return false
	}
	n := t.data[1]
	return n == '_' || n == '-' || (n >= 'a' && n <= 'z') || (n >= 'A' && n <= 'Z')
}

// idSelectors returns the offsets of "#name" tokens in selector position.
// In SCSS a selector is what follows the previous ';', '{' or '}' up to the
// next block '{'. In indented Sass it is any line without a ':' declaration.
func idSelectors(code []byte, toks []styleToken, indented bool) []int {
	var out []int
	if indented {
		for _, t := range toks {
			if !isIDHash(t) {
				continue
			}
			if body := bytes.TrimSpace(lineAt(code, t.off)); body[0] != '@' && !isDeclaration(body) {
				out = append(out, t.off)
			}
		}
		return out
	}

	var (
		pending []int
		atRule  bool
		fresh   = true
		blocks  []bool // true for an interpolation
	)
	reset := func() {
		pending = pending[:0]
		atRule = false
		fresh = true
	}
	for i, t := range toks {
		if fresh {
			atRule = t.typ == css.AtKeywordToken
			fresh = false
		}
		switch t.typ {
		case css.HashToken:
			if isIDHash(t) && !atRule {
				pending = append(pending, t.off)
			}
		case css.LeftBraceToken:
			if interpolation(toks, i) {
				blocks = append(blocks, true)
				continue
			}
			blocks = append(blocks, false)
			out = append(out, pending...)
			reset()
		case css.RightBraceToken:
			if n := len(blocks); n > 0 {
				interp := blocks[n-1]
				blocks = blocks[:n-1]
				if interp {
					continue
				}
			}
			reset()
		case css.SemicolonToken:
			reset()
		}
	}
	return out
}

// lineAt returns the line of code containing off, without its newline.
func lineAt(code []byte, off int) []byte {
	start := bytes.LastIndexByte(code[:off], '\n') + 1
	end := bytes.IndexByte(code[off:], '\n')
	if end < 0 {
		return code[start:]
	}
	return code[start : off+end]
}

func isDeclaration(line []byte) bool {
	if line[0] == '+' || line[0] == '=' || line[0] == '@' || line[0] == '$' {
		return true
	}
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return false
	}
	// "a:hover" is a selector; "color: red" is a declaration.
	return i+1 == len(line) || line[i+1] == ' '
}
