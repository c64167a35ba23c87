package sourcemap

import (
	"errors"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Index = func() [256]int8 {
	var t [256]int8
	for i := range t {
		t[i] = -1
	}
	for i := 0; i < len(base64Chars); i++ {
		t[base64Chars[i]] = int8(i)
	}
	return t
}()

const (
	vlqShift    = 5
	vlqContinue = 1 << vlqShift
	vlqMask     = vlqContinue - 1
)

var errBadVLQ = errors.New("invalid VLQ sequence")

func writeVLQ(b *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & vlqMask
		u >>= vlqShift
		if u > 0 {
			digit |= vlqContinue
		}
		b.WriteByte(base64Chars[digit])
		if u == 0 {
			return
		}
	}
}

// readVLQ decodes one value from s and returns it with the rest of s.
func readVLQ(s string) (int, string, error) {
	var (
		result int
		shift  uint
	)
	for i := 0; i < len(s); i++ {
		digit := int(base64Index[s[i]])
		if digit < 0 {
			return 0, s, errBadVLQ
		}
		result += (digit & vlqMask) << shift
		if digit&vlqContinue == 0 {
			if result&1 == 1 {
				return -(result >> 1), s[i+1:], nil
			}
			return result >> 1, s[i+1:], nil
		}
		shift += vlqShift
		if shift > 60 {
			return 0, s, errBadVLQ
		}
	}
	return 0, s, errBadVLQ
}

// encodeMappings renders lines of segments into the "mappings" field.
func encodeMappings(lines [][]Segment) string {
	var b strings.Builder
	var prevSource, prevLine, prevCol, prevName int
	for i, segs := range lines {
		if i > 0 {
			b.WriteByte(';')
		}
		prevGenCol := 0
		for j, s := range segs {
			if j > 0 {
				b.WriteByte(',')
			}
			writeVLQ(&b, s.GenCol-prevGenCol)
			prevGenCol = s.GenCol
			if s.Source < 0 {
				continue
			}
			writeVLQ(&b, s.Source-prevSource)
			writeVLQ(&b, s.Line-prevLine)
			writeVLQ(&b, s.Col-prevCol)
			prevSource, prevLine, prevCol = s.Source, s.Line, s.Col
			if s.Name >= 0 {
				writeVLQ(&b, s.Name-prevName)
				prevName = s.Name
			}
		}
	}
	return b.String()
}

// decodeMappings parses the "mappings" field.
func decodeMappings(mappings string, nSources, nNames int) ([][]Segment, error) {
	var lines [][]Segment
	var prevSource, prevLine, prevCol, prevName int
	for _, group := range strings.Split(mappings, ";") {
		var segs []Segment
		prevGenCol := 0
		for _, raw := range strings.Split(group, ",") {
			if raw == "" {
				continue
			}
			var fields [5]int
			n := 0
			rest := raw
			for rest != "" {
				if n == len(fields) {
					return nil, errBadVLQ
				}
				v, r, err := readVLQ(rest)
				if err != nil {
					return nil, err
				}
				fields[n] = v
				n++
				rest = r
			}
			if n != 1 && n != 4 && n != 5 {
				return nil, errBadVLQ
			}
			s := Segment{GenCol: prevGenCol + fields[0], Source: -1, Name: -1}
			prevGenCol = s.GenCol
			if n >= 4 {
				prevSource += fields[1]
				prevLine += fields[2]
				prevCol += fields[3]
				if prevSource < 0 || prevSource >= nSources {
					return nil, errors.New("segment references unknown source")
				}
				s.Source, s.Line, s.Col = prevSource, prevLine, prevCol
			}
			if n == 5 {
				prevName += fields[4]
				if prevName < 0 || prevName >= nNames {
					return nil, errors.New("segment references unknown name")
				}
				s.Name = prevName
			}
			segs = append(segs, s)
		}
		lines = append(lines, segs)
	}
	return lines, nil
}
