package sourcemap

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const dataURLPrefix = "data:application/json;charset=utf-8;base64,"

var commentPattern = regexp.MustCompile(`(?m)(?:/\*[#@] sourceMappingURL=([^\s*]+)\s*\*/|//[#@] sourceMappingURL=(\S+))[ \t]*\r?\n?`)

// Comment returns the sourceMappingURL comment for url in CSS or JS syntax.
func Comment(url string, css bool) string {
	if css {
		return "/*# sourceMappingURL=" + url + " */"
	}
	return "//# sourceMappingURL=" + url
}

// AppendComment appends the comment on its own line.
func AppendComment(content []byte, url string, css bool) []byte {
	out := make([]byte, 0, len(content)+len(url)+32)
	out = append(out, content...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	out = append(out, Comment(url, css)...)
	return append(out, '\n')
}

// DataURL renders m as a base64 data URL for inline comments.
func DataURL(m *Map) (string, error) {
	b, err := m.MarshalJSON()
	if err != nil {
		return "", err
	}
	return dataURLPrefix + base64.StdEncoding.EncodeToString(b), nil
}

// Strip removes the last sourceMappingURL comment from content and returns the
// remaining content together with the comment's URL.
func Strip(content []byte) ([]byte, string, bool) {
	locs := commentPattern.FindAllSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return content, "", false
	}
	loc := locs[len(locs)-1]
	var u string
	switch {
	case loc[2] >= 0:
		u = string(content[loc[2]:loc[3]])
	case loc[4] >= 0:
		u = string(content[loc[4]:loc[5]])
	}
	out := make([]byte, 0, len(content))
	out = append(out, content[:loc[0]]...)
	out = append(out, content[loc[1]:]...)
	return out, u, true
}

// ExtractInline strips an inline (data URL) map from content and decodes it.
// Content without a comment yields a nil map and no error.
func ExtractInline(content []byte) ([]byte, *Map, error) {
	stripped, u, ok := Strip(content)
	if !ok {
		return content, nil, nil
	}
	if !strings.HasPrefix(u, "data:") {
		return content, nil, nil
	}
	m, err := DecodeDataURL(u)
	if err != nil {
		return content, nil, err
	}
	return bytes.TrimRight(stripped, " \t\r\n"), m, nil
}

// DecodeDataURL decodes a data URL holding a JSON source map, base64 or
// percent-encoded.
func DecodeDataURL(u string) (*Map, error) {
	if !strings.HasPrefix(u, "data:") {
		return nil, errors.New("not a data URL")
	}
	meta, payload, ok := strings.Cut(u[len("data:"):], ",")
	if !ok {
		return nil, errors.New("malformed data URL")
	}
	var raw []byte
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URL: %w", err)
		}
		raw = b
	} else {
		s, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URL: %w", err)
		}
		raw = []byte(s)
	}
	return Parse(raw)
}
