// Package schema holds the policy tables that drive DESCRIPTION decoding:
// the closed set of canonical fields, the alias table mapping raw key
// variants onto them, and each field's type and label policy.
//
// A Schema is plain configuration data. It is loaded from YAML (see
// internal/config) or taken from Default, compiled once, and then passed
// explicitly to the decoder and normalizer.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Kind is the declared type of a canonical field.
type Kind string

const (
	KindString Kind = "string"
	KindList   Kind = "list"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
)

// RangePolicy selects the number kept from a range such as "10-20".
type RangePolicy string

const (
	RangeUpper RangePolicy = "upper"
	RangeLower RangePolicy = "lower"
	RangeMean  RangePolicy = "mean"
)

const (
	defaultSeparators  = ",;"
	defaultMaxKeyRunes = 40
)

// LabelRule replaces a value with Label when any Match substring occurs in
// it (case-insensitive).
type LabelRule struct {
	Label string   `yaml:"label" json:"label"`
	Match []string `yaml:"match" json:"match"`
}

// Field declares one canonical field.
type Field struct {
	// Name is the canonical column name. It must already be in normalized
	// key form (see NormalizeKey).
	Name string `yaml:"name" json:"name"`
	// Aliases are raw key spellings that map onto Name.
	Aliases []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Kind    Kind     `yaml:"kind" json:"kind"`

	// Separators splits list values. Defaults to ",;".
	Separators string `yaml:"separators,omitempty" json:"separators,omitempty"`
	// Range applies to int and float fields. Defaults to upper.
	Range RangePolicy `yaml:"range,omitempty" json:"range,omitempty"`
	// True / False are the first-word tokens accepted by bool fields.
	True  []string `yaml:"true,omitempty" json:"true,omitempty"`
	False []string `yaml:"false,omitempty" json:"false,omitempty"`

	// Labels are checked in order; the first match wins.
	Labels []LabelRule `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Detail names a field that receives the text after the first ':' or
	// ',' of this field's value.
	Detail string `yaml:"detail,omitempty" json:"detail,omitempty"`
	// DetailFallback copies this field's raw head into Detail when the
	// value had no tail.
	DetailFallback bool `yaml:"detail_fallback,omitempty" json:"detail_fallback,omitempty"`
}

// Schema is the closed, versioned set of canonical fields.
type Schema struct {
	Version int     `yaml:"version" json:"version"`
	Fields  []Field `yaml:"fields" json:"fields"`

	// LineSeparators are split on in addition to line breaks.
	LineSeparators []string `yaml:"line_separators,omitempty" json:"line_separators,omitempty"`
	// MaxKeyRunes bounds the key of a "key: value" line so that prose
	// containing a colon is not mistaken for a field.
	MaxKeyRunes int `yaml:"max_key_runes,omitempty" json:"max_key_runes,omitempty"`

	compiled bool
	aliases  map[string]string
	index    map[string]int
	labels   [][]compiledLabel
	trues    []map[string]bool
	falses   []map[string]bool
}

type compiledLabel struct {
	label string
	match []string
}

var (
	ErrNotCompiled = errors.New("schema: not compiled")
	ErrNoFields    = errors.New("schema: no fields declared")
)

// Compile validates s and returns a ready-to-use copy with its lookup
// tables built. s itself is not modified.
func Compile(s Schema) (*Schema, error) {
	if len(s.Fields) == 0 {
		return nil, ErrNoFields
	}

	out := s
	out.Fields = make([]Field, len(s.Fields))
	copy(out.Fields, s.Fields)
	out.LineSeparators = append([]string(nil), s.LineSeparators...)
	if out.MaxKeyRunes <= 0 {
		out.MaxKeyRunes = defaultMaxKeyRunes
	}

	out.index = make(map[string]int, len(out.Fields))
	out.aliases = make(map[string]string)

	for i := range out.Fields {
		f := &out.Fields[i]
		if f.Name == "" {
			return nil, fmt.Errorf("schema: field %d has no name", i)
		}
		if NormalizeKey(f.Name) != f.Name {
			return nil, fmt.Errorf("schema: field name %q is not in normalized form (want %q)", f.Name, NormalizeKey(f.Name))
		}
		if _, dup := out.index[f.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate field %q", f.Name)
		}
		switch f.Kind {
		case KindString, KindList, KindInt, KindFloat, KindBool:
		case "":
			f.Kind = KindString
		default:
			return nil, fmt.Errorf("schema: field %q has unknown kind %q", f.Name, f.Kind)
		}
		switch f.Range {
		case RangeUpper, RangeLower, RangeMean:
		case "":
			f.Range = RangeUpper
		default:
			return nil, fmt.Errorf("schema: field %q has unknown range policy %q", f.Name, f.Range)
		}
		if f.Kind == KindList && f.Separators == "" {
			f.Separators = defaultSeparators
		}
		out.index[f.Name] = i
	}

	for i := range out.Fields {
		f := out.Fields[i]
		keys := append([]string{f.Name}, f.Aliases...)
		for _, a := range keys {
			k := NormalizeKey(a)
			if k == "" {
				continue
			}
			if owner, ok := out.aliases[k]; ok && owner != f.Name {
				return nil, fmt.Errorf("schema: alias %q claimed by both %q and %q", a, owner, f.Name)
			}
			if j, ok := out.index[k]; ok && out.Fields[j].Name != f.Name {
				return nil, fmt.Errorf("schema: alias %q of %q shadows field %q", a, f.Name, k)
			}
			out.aliases[k] = f.Name
		}

		if f.Detail != "" {
			j, ok := out.index[f.Detail]
			if !ok {
				return nil, fmt.Errorf("schema: field %q names unknown detail field %q", f.Name, f.Detail)
			}
			if f.Detail == f.Name {
				return nil, fmt.Errorf("schema: field %q is its own detail field", f.Name)
			}
			if out.Fields[j].Detail != "" {
				return nil, fmt.Errorf("schema: detail field %q of %q has a detail field itself", f.Detail, f.Name)
			}
		}
	}

	out.labels = make([][]compiledLabel, len(out.Fields))
	out.trues = make([]map[string]bool, len(out.Fields))
	out.falses = make([]map[string]bool, len(out.Fields))
	for i, f := range out.Fields {
		for _, r := range f.Labels {
			if r.Label == "" {
				return nil, fmt.Errorf("schema: field %q has a label rule without label", f.Name)
			}
			cl := compiledLabel{label: r.Label}
			for _, m := range r.Match {
				if m = FoldText(m); m != "" {
					cl.match = append(cl.match, m)
				}
			}
			out.labels[i] = append(out.labels[i], cl)
		}
		if f.Kind == KindBool {
			trues, falses := f.True, f.False
			if len(trues) == 0 {
				trues = defaultTrue
			}
			if len(falses) == 0 {
				falses = defaultFalse
			}
			out.trues[i] = tokenSet(trues)
			out.falses[i] = tokenSet(falses)
		}
	}

	out.compiled = true
	return &out, nil
}

var (
	defaultTrue  = []string{"ja", "yes", "y", "true", "x", "1"}
	defaultFalse = []string{"nein", "no", "n", "false", "0", "-"}
)

func tokenSet(tokens []string) map[string]bool {
	m := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if t = FoldText(t); t != "" {
			m[t] = true
		}
	}
	return m
}

// Validate reports whether s would compile.
func Validate(s Schema) error {
	_, err := Compile(s)
	return err
}

// MustCompile is like Compile but panics on error. Intended for built-in
// schemas known to be valid.
func MustCompile(s Schema) *Schema {
	c, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Compiled reports whether s has been through Compile.
func (s *Schema) Compiled() bool { return s != nil && s.compiled }

// Len returns the number of canonical fields.
func (s *Schema) Len() int { return len(s.Fields) }

// Names returns the canonical field names in schema order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the position of the canonical field name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Canonical resolves a normalized key through the alias table.
func (s *Schema) Canonical(normKey string) (string, bool) {
	name, ok := s.aliases[normKey]
	return name, ok
}

// Resolve normalizes a raw key and resolves it. Unknown keys come back in
// their normalized literal form with ok=false.
func (s *Schema) Resolve(rawKey string) (key string, ok bool) {
	k := NormalizeKey(rawKey)
	if name, found := s.aliases[k]; found {
		return name, true
	}
	return k, false
}

// Label applies field i's label rules to v. The folded value is matched;
// the original v is returned unchanged when no rule applies.
func (s *Schema) Label(i int, v string) string {
	if i < 0 || i >= len(s.labels) || len(s.labels[i]) == 0 {
		return v
	}
	folded := FoldText(v)
	for _, r := range s.labels[i] {
		for _, m := range r.match {
			if strings.Contains(folded, m) {
				return r.label
			}
		}
	}
	return v
}

// ParseBool matches the first word of v against field i's tokens.
func (s *Schema) ParseBool(i int, v string) (value, ok bool) {
	words := strings.Fields(FoldText(v))
	if len(words) == 0 {
		return false, false
	}
	w := strings.TrimFunc(words[0], func(r rune) bool {
		return unicode.IsPunct(r) && r != '-'
	})
	switch {
	case s.trues[i][w]:
		return true, true
	case s.falses[i][w]:
		return false, true
	}
	return false, false
}

// NormalizeKey maps a raw key to its canonical literal form: Unicode NFC,
// case folded, every run of non-letter/non-digit characters collapsed to a
// single '_', with no leading or trailing '_'. It is idempotent.
func NormalizeKey(s string) string {
	s = FoldText(s)
	var b strings.Builder
	b.Grow(len(s))
	sep := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			sep = false
			b.WriteRune(r)
			continue
		}
		sep = true
	}
	return b.String()
}

// FoldText returns s in NFC, case folded and trimmed. Used for all
// case-insensitive matching.
func FoldText(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	return cases.Fold().String(s)
}
