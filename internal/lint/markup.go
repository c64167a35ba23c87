package lint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/net/html"
)

// Markup issue codes.
const (
	CodeTagClose     = "tag-close"
	CodeTagStray     = "tag-stray"
	CodeAttrNoDup    = "attr-no-dup"
	CodeDoctypeFirst = "doctype-first"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true,
	"track": true, "wbr": true,
}

// Elements whose end tag may be omitted.
var optionalEnd = map[string]bool{
	"html": true, "head": true, "body": true, "li": true, "dt": true, "dd": true,
	"p": true, "rt": true, "rp": true, "optgroup": true, "option": true,
	"colgroup": true, "caption": true, "thead": true, "tbody": true, "tfoot": true,
	"tr": true, "td": true, "th": true,
}

// MarkupLinter checks HTML structure: every non-void element is closed, no
// closing tag is stray, attributes are not repeated and, optionally, the
// document starts with a doctype.
type MarkupLinter struct {
	RequireDoctype bool
}

func (MarkupLinter) Name() string { return "htmllint" }

type openTag struct {
	name   string
	offset int
}

func (l MarkupLinter) Lint(ctx context.Context, path string, src []byte) ([]Issue, error) {
	var (
		issues []Issue
		stack  []openTag
		offset int
		seen   bool
	)
	add := func(off int, code, msg string) {
		line, col := position(src, off)
		issues = append(issues, Issue{Path: path, Line: line, Column: col, Code: code, Message: msg, Severity: SeverityError})
	}

	z := html.NewTokenizer(bytes.NewReader(src))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tt := z.Next()
		start := offset
		offset += len(z.Raw())

		switch tt {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("tokenize %s: %w", path, err)
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if optionalEnd[stack[i].name] {
					continue
				}
				add(stack[i].offset, CodeTagClose, fmt.Sprintf("<%s> is never closed", stack[i].name))
			}
			return issues, nil

		case html.DoctypeToken:
			seen = true

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if l.RequireDoctype && !seen {
				add(start, CodeDoctypeFirst, "document must start with <!DOCTYPE html>")
				seen = true
			}
			attrs := map[string]bool{}
			for _, a := range tok.Attr {
				if attrs[a.Key] {
					add(start, CodeAttrNoDup, fmt.Sprintf("attribute %q is repeated on <%s>", a.Key, tok.Data))
				}
				attrs[a.Key] = true
			}
			if tt == html.StartTagToken && !voidElements[tok.Data] {
				stack = append(stack, openTag{name: tok.Data, offset: start})
			}

		case html.EndTagToken:
			tok := z.Token()
			if voidElements[tok.Data] {
				continue
			}
			idx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].name == tok.Data {
					idx = i
					break
				}
			}
			if idx < 0 {
				add(start, CodeTagStray, fmt.Sprintf("</%s> has no matching opening tag", tok.Data))
				continue
			}
			for i := len(stack) - 1; i > idx; i-- {
				if !optionalEnd[stack[i].name] {
					add(stack[i].offset, CodeTagClose, fmt.Sprintf("<%s> is never closed", stack[i].name))
				}
			}
			stack = stack[:idx]

		case html.TextToken, html.CommentToken:
			if l.RequireDoctype && !seen && tt == html.TextToken && len(bytes.TrimSpace(z.Raw())) > 0 {
				add(start, CodeDoctypeFirst, "document must start with <!DOCTYPE html>")
				seen = true
			}
		}
	}
}
