// Package decode turns a DESCRIPTION payload into a FieldMap.
//
// The payload is line oriented: every "key: value" line contributes one
// field, everything else is ignored. Keys are normalized and resolved
// through the schema's alias table; values are typed according to the
// field's policy. Decoding never fails: unparsable values are kept as raw
// text and flagged Malformed.
//
// Multi-value policy: when a key repeats, list fields append the new items
// (duplicates collapsed, first-seen order kept) and scalar fields keep the
// later value.
package decode

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"calstats/internal/model"
	"calstats/internal/schema"
)

// Decoder decodes DESCRIPTION text under one compiled schema. It holds no
// mutable state and is safe for concurrent use.
type Decoder struct {
	s     *schema.Schema
	lines *strings.Replacer
}

// New returns a Decoder for s. s must be compiled.
func New(s *schema.Schema) *Decoder {
	pairs := []string{"\r\n", "\n", "\r", "\n"}
	for _, sep := range s.LineSeparators {
		if sep != "" {
			pairs = append(pairs, sep, "\n")
		}
	}
	return &Decoder{s: s, lines: strings.NewReplacer(pairs...)}
}

// Schema returns the schema the decoder was built with.
func (d *Decoder) Schema() *schema.Schema { return d.s }

// Decode parses desc into a FieldMap. An empty desc yields an empty map.
func (d *Decoder) Decode(desc string) model.FieldMap {
	b := model.NewFieldMapBuilder()
	if strings.TrimSpace(desc) == "" {
		return b.Build()
	}

	for _, line := range strings.Split(d.lines.Replace(desc), "\n") {
		rawKey, rawVal, ok := d.splitLine(line)
		if !ok {
			continue
		}
		name, known := d.s.Resolve(rawKey)
		if !known {
			if v := strings.TrimSpace(rawVal); v != "" {
				b.Set(name, model.StringValue(v))
			}
			continue
		}
		i, _ := d.s.Index(name)
		d.decodeField(b, i, rawVal)
	}
	return b.Build()
}

// splitLine recognizes a "key: value" line.
func (d *Decoder) splitLine(line string) (key, val string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	val = line[idx+1:]
	if key == "" || utf8.RuneCountInString(key) > d.s.MaxKeyRunes {
		return "", "", false
	}
	// URLs ("https://...") are prose, not fields.
	if strings.HasPrefix(val, "//") {
		return "", "", false
	}
	if schema.NormalizeKey(key) == "" {
		return "", "", false
	}
	return key, val, true
}

func (d *Decoder) decodeField(b *model.FieldMapBuilder, i int, raw string) {
	f := d.s.Fields[i]
	raw = strings.TrimSpace(raw)
	if f.Detail == "" {
		d.set(b, i, raw)
		return
	}

	head, tail, hasTail := splitDetail(raw)
	j, _ := d.s.Index(f.Detail)
	// A repeated scalar replaces the whole earlier line, detail included.
	if _, seen := b.Get(f.Name); seen && f.Kind != schema.KindList {
		b.Delete(d.s.Fields[j].Name)
	}
	d.set(b, i, head)
	switch {
	case hasTail:
		d.set(b, j, tail)
	case f.DetailFallback && head != "":
		d.set(b, j, head)
	}
}

// set parses raw under field i and merges it into b.
func (d *Decoder) set(b *model.FieldMapBuilder, i int, raw string) {
	f := d.s.Fields[i]
	v := d.parse(i, raw)
	if v.IsMissing() {
		return
	}
	if f.Kind == schema.KindList && v.Kind == model.KindList {
		if prev, ok := b.Get(f.Name); ok && prev.Kind == model.KindList {
			merged := appendUnique(append([]string(nil), prev.List...), v.List...)
			v = model.ListValue(merged, prev.Raw+"\n"+v.Raw)
		}
	}
	b.Set(f.Name, v)
}

// parse applies field i's type policy to raw.
func (d *Decoder) parse(i int, raw string) model.Value {
	if raw == "" {
		return model.Missing()
	}
	f := d.s.Fields[i]

	switch f.Kind {
	case schema.KindList:
		parts := strings.FieldsFunc(raw, func(r rune) bool {
			return strings.ContainsRune(f.Separators, r)
		})
		items := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				items = appendUnique(items, d.s.Label(i, p))
			}
		}
		return model.ListValue(items, raw)

	case schema.KindInt:
		n, ok := parseNumber(raw, f.Range, true)
		if !ok || math.Abs(n) >= math.MaxInt64 {
			return model.MalformedValue(raw)
		}
		return model.IntValue(int64(math.Round(n)), raw)

	case schema.KindFloat:
		n, ok := parseNumber(raw, f.Range, false)
		if !ok {
			return model.MalformedValue(raw)
		}
		return model.FloatValue(n, raw)

	case schema.KindBool:
		bv, ok := d.s.ParseBool(i, raw)
		if !ok {
			return model.MalformedValue(raw)
		}
		return model.BoolValue(bv, raw)

	default:
		v := model.StringValue(d.s.Label(i, raw))
		v.Raw = raw
		return v
	}
}

// splitDetail splits at the first ':' or ','.
func splitDetail(s string) (head, tail string, ok bool) {
	idx := strings.IndexAny(s, ":,")
	if idx < 0 {
		return s, "", false
	}
	head = strings.TrimSpace(s[:idx])
	tail = strings.TrimSpace(s[idx+1:])
	return head, tail, tail != ""
}

var (
	numberRe = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	rangeRe  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*[-–]\s*(\d+(?:[.,]\d+)?)`)
	// chainRe matches a further "-digits" group after a range, as in dates.
	chainRe = regexp.MustCompile(`^\s*[-–]\s*\d`)
)

// parseNumber extracts a number from free text. A range of non-negative
// bounds such as "10-20" resolves per policy; otherwise the first number
// wins, with its sign. Date-like chains ("2024-05-01") and signed ranges
// are rejected. With integer set, a number with a decimal or thousands
// separator ("1.000", "2,5") is rejected as well.
func parseNumber(s string, policy schema.RangePolicy, integer bool) (float64, bool) {
	if loc := rangeRe.FindStringSubmatchIndex(s); loc != nil {
		if signed(s, loc[0]) || chainRe.MatchString(s[loc[1]:]) {
			return 0, false
		}
		lo, hi := s[loc[2]:loc[3]], s[loc[4]:loc[5]]
		if integer && (fractional(lo) || fractional(hi)) {
			return 0, false
		}
		l, err1 := toFloat(lo)
		h, err2 := toFloat(hi)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch policy {
		case schema.RangeLower:
			return l, true
		case schema.RangeMean:
			return (l + h) / 2, true
		default:
			return h, true
		}
	}
	loc := numberRe.FindStringIndex(s)
	if loc == nil {
		return 0, false
	}
	tok := s[loc[0]:loc[1]]
	if integer && fractional(tok) {
		return 0, false
	}
	n, err := toFloat(tok)
	if err != nil {
		return 0, false
	}
	if signed(s, loc[0]) {
		n = -n
	}
	return n, true
}

// signed reports whether the number starting at s[i] carries a minus sign:
// a '-' or '−' right before it that does not follow a letter or digit.
func signed(s string, i int) bool {
	r, size := utf8.DecodeLastRuneInString(s[:i])
	if r != '-' && r != '−' {
		return false
	}
	p, _ := utf8.DecodeLastRuneInString(s[:i-size])
	return p == utf8.RuneError || !(unicode.IsLetter(p) || unicode.IsDigit(p))
}

func fractional(tok string) bool {
	return strings.ContainsAny(tok, ".,")
}

func toFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, have := range dst {
			if have == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
