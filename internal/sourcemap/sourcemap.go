// Package sourcemap implements revision 3 source maps as the asset pipeline
// needs them: identity maps for fresh sources, line offsets for concatenation,
// composition of a transform's map onto the map a file already carries, and
// the sourceMappingURL comment forms.
//
// Lines and columns are 0-based throughout, as in the wire format.
package sourcemap

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Segment maps a generated column to an original position.
// Source and Name are indexes into the map's tables; -1 means absent.
type Segment struct {
	GenCol int
	Source int
	Line   int
	Col    int
	Name   int
}

// Mapped reports whether the segment points into a source.
func (s Segment) Mapped() bool { return s.Source >= 0 }

// Map is a decoded source map. Lines[i] holds the segments of generated line i
// sorted by GenCol.
type Map struct {
	File           string
	SourceRoot     string
	Sources        []string
	SourcesContent []string
	Names          []string
	Lines          [][]Segment
}

type wireMap struct {
	Version        int       `json:"version"`
	File           string    `json:"file,omitempty"`
	SourceRoot     string    `json:"sourceRoot,omitempty"`
	Sources        []string  `json:"sources"`
	SourcesContent []*string `json:"sourcesContent,omitempty"`
	Names          []string  `json:"names"`
	Mappings       string    `json:"mappings"`
}

// Parse decodes a JSON source map.
func Parse(b []byte) (*Map, error) {
	var w wireMap
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode source map: %w", err)
	}
	if w.Version != 3 {
		return nil, fmt.Errorf("unsupported source map version %d", w.Version)
	}
	lines, err := decodeMappings(w.Mappings, len(w.Sources), len(w.Names))
	if err != nil {
		return nil, fmt.Errorf("decode mappings: %w", err)
	}
	m := &Map{
		File:       w.File,
		SourceRoot: w.SourceRoot,
		Sources:    append([]string(nil), w.Sources...),
		Names:      append([]string(nil), w.Names...),
		Lines:      lines,
	}
	if len(w.SourcesContent) > 0 {
		m.SourcesContent = make([]string, len(w.Sources))
		for i, c := range w.SourcesContent {
			if i < len(m.SourcesContent) && c != nil {
				m.SourcesContent[i] = *c
			}
		}
	}
	m.sortLines()
	return m, nil
}

// MarshalJSON encodes the map in the v3 wire format.
func (m *Map) MarshalJSON() ([]byte, error) {
	w := wireMap{
		Version:    3,
		File:       m.File,
		SourceRoot: m.SourceRoot,
		Sources:    m.Sources,
		Names:      m.Names,
		Mappings:   encodeMappings(m.trimmedLines()),
	}
	if w.Sources == nil {
		w.Sources = []string{}
	}
	if w.Names == nil {
		w.Names = []string{}
	}
	if len(m.SourcesContent) > 0 {
		w.SourcesContent = make([]*string, len(m.Sources))
		for i := range m.Sources {
			if i < len(m.SourcesContent) {
				c := m.SourcesContent[i]
				w.SourcesContent[i] = &c
			}
		}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(w); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes a v3 map into m.
func (m *Map) UnmarshalJSON(b []byte) error {
	parsed, err := Parse(b)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Identity returns a map in which every non-empty line of content maps to the
// same line of source, column for column.
func Identity(source string, content []byte) *Map {
	m := &Map{
		File:           source,
		Sources:        []string{source},
		SourcesContent: []string{string(content)},
	}
	for line, text := range bytes.Split(content, []byte("\n")) {
		var segs []Segment
		if len(bytes.TrimRight(text, "\r")) > 0 {
			segs = []Segment{{GenCol: 0, Source: 0, Line: line, Col: 0, Name: -1}}
		}
		m.Lines = append(m.Lines, segs)
	}
	return m
}

// Lookup returns the segment covering (line, col) of the generated file: the
// last segment on that line starting at or before col.
func (m *Map) Lookup(line, col int) (Segment, bool) {
	if m == nil || line < 0 || line >= len(m.Lines) {
		return Segment{}, false
	}
	segs := m.Lines[line]
	i := sort.Search(len(segs), func(i int) bool { return segs[i].GenCol > col })
	if i == 0 {
		return Segment{}, false
	}
	return segs[i-1], true
}

// Original resolves a generated position to (source, line, col).
func (m *Map) Original(line, col int) (string, int, int, bool) {
	s, ok := m.Lookup(line, col)
	if !ok || !s.Mapped() {
		return "", 0, 0, false
	}
	s = adjust(s, col)
	return m.Sources[s.Source], s.Line, s.Col, true
}

// Clone returns a deep copy of m.
func (m *Map) Clone() *Map {
	if m == nil {
		return nil
	}
	cp := &Map{
		File:           m.File,
		SourceRoot:     m.SourceRoot,
		Sources:        append([]string(nil), m.Sources...),
		SourcesContent: append([]string(nil), m.SourcesContent...),
		Names:          append([]string(nil), m.Names...),
		Lines:          make([][]Segment, len(m.Lines)),
	}
	for i, segs := range m.Lines {
		cp.Lines[i] = append([]Segment(nil), segs...)
	}
	return cp
}

// adjust moves a segment found by Lookup to the exact column asked for, on
// the assumption that the covered text was copied unchanged.
func adjust(s Segment, col int) Segment {
	s.Col += col - s.GenCol
	s.GenCol = col
	return s
}

func (m *Map) sortLines() {
	for _, segs := range m.Lines {
		sort.SliceStable(segs, func(i, j int) bool { return segs[i].GenCol < segs[j].GenCol })
	}
}

// trimmedLines drops trailing empty lines, which carry no information.
func (m *Map) trimmedLines() [][]Segment {
	n := len(m.Lines)
	for n > 0 && len(m.Lines[n-1]) == 0 {
		n--
	}
	return m.Lines[:n]
}

// table interns strings for sources and names while maps are merged.
type table struct {
	index   map[string]int
	values  []string
	content []string
}

func newTable() *table { return &table{index: make(map[string]int)} }

func (t *table) add(v, content string) int {
	if i, ok := t.index[v]; ok {
		if t.content[i] == "" {
			t.content[i] = content
		}
		return i
	}
	t.index[v] = len(t.values)
	t.values = append(t.values, v)
	t.content = append(t.content, content)
	return len(t.values) - 1
}

func hasContent(values []string) bool {
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}

func contentAt(m *Map, i int) string {
	if i < len(m.SourcesContent) {
		return m.SourcesContent[i]
	}
	return ""
}

// Part is one input of a concatenation.
type Part struct {
	// Map may be nil, in which case the part's lines stay unmapped.
	Map *Map
	// Line is the generated line at which the part starts.
	Line int
	// Lines is the number of generated lines the part occupies.
	Lines int
}

// Concat merges the maps of concatenated parts into one map for file.
func Concat(file string, parts []Part) *Map {
	sources, names := newTable(), newTable()
	out := &Map{File: file}
	for _, p := range parts {
		for len(out.Lines) < p.Line+p.Lines {
			out.Lines = append(out.Lines, nil)
		}
		if p.Map == nil {
			continue
		}
		for i, segs := range p.Map.Lines {
			if i >= p.Lines {
				break
			}
			for _, s := range segs {
				if s.Mapped() {
					s.Source = sources.add(p.Map.Sources[s.Source], contentAt(p.Map, s.Source))
					if s.Name >= 0 {
						s.Name = names.add(p.Map.Names[s.Name], "")
					}
				}
				out.Lines[p.Line+i] = append(out.Lines[p.Line+i], s)
			}
		}
	}
	out.Sources = sources.values
	out.Names = names.values
	if hasContent(sources.content) {
		out.SourcesContent = sources.content
	}
	return out
}

// Compose maps next (a transform's output → its input) through prev (that
// input → the original sources) and returns output → original sources.
// Segments of next that land on unmapped parts of prev are dropped.
func Compose(next, prev *Map) (*Map, error) {
	return ComposeFunc(next, prev, nil)
}

// ComposeFunc is Compose restricted to the sources of next for which through
// returns true. Segments pointing at other sources are kept as they are, with
// their own source. A nil through composes every source.
func ComposeFunc(next, prev *Map, through func(source string) bool) (*Map, error) {
	if next == nil {
		return nil, errors.New("compose: nil map")
	}
	if prev == nil {
		return next.Clone(), nil
	}
	sources, names := newTable(), newTable()
	out := &Map{File: next.File, Lines: make([][]Segment, len(next.Lines))}
	for i, segs := range next.Lines {
		for _, s := range segs {
			if !s.Mapped() {
				continue
			}
			if through != nil && !through(next.Sources[s.Source]) {
				s.Source = sources.add(next.Sources[s.Source], contentAt(next, s.Source))
				if s.Name >= 0 {
					s.Name = names.add(next.Names[s.Name], "")
				}
				out.Lines[i] = append(out.Lines[i], s)
				continue
			}
			p, ok := prev.Lookup(s.Line, s.Col)
			if !ok || !p.Mapped() {
				continue
			}
			p = adjust(p, s.Col)
			seg := Segment{
				GenCol: s.GenCol,
				Source: sources.add(prev.Sources[p.Source], contentAt(prev, p.Source)),
				Line:   p.Line,
				Col:    p.Col,
				Name:   -1,
			}
			switch {
			case s.Name >= 0:
				seg.Name = names.add(next.Names[s.Name], "")
			case p.Name >= 0:
				seg.Name = names.add(prev.Names[p.Name], "")
			}
			out.Lines[i] = append(out.Lines[i], seg)
		}
	}
	out.Sources = sources.values
	out.Names = names.values
	if hasContent(sources.content) {
		out.SourcesContent = sources.content
	}
	return out, nil
}
