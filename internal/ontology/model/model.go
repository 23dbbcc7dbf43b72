// Package model holds the normalized, format independent view of one ontology
// snapshot: concepts, the terms describing them, the words those terms contain
// and the relationships between all of them.
package model

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

type Format string

const (
	FormatReadV2   Format = "ReadV2"
	FormatCTV3     Format = "CTV3"
	FormatSNOMEDCT Format = "SNOMED_CT"
)

var knownFormats = []Format{FormatReadV2, FormatCTV3, FormatSNOMEDCT}

// ParseFormat matches case-insensitively and tolerates "SNOMED-CT"/"SNOMEDCT".
func ParseFormat(raw string) (Format, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	for _, f := range knownFormats {
		if strings.ToLower(strings.ReplaceAll(string(f), "_", "")) == norm {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown ontology format %q", raw)
}

func ParseFormats(raw []string) ([]Format, error) {
	out := make([]Format, 0, len(raw))
	seen := map[Format]bool{}
	for _, r := range raw {
		f, err := ParseFormat(r)
		if err != nil {
			return nil, err
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

func (f Format) ConceptLabel() string { return string(f) + "_Concept" }
func (f Format) TermLabel() string    { return string(f) + "_Term" }

const (
	WordLabel = "Word"

	// PrimaryTermSuffix marks the preferred term of a concept.
	PrimaryTermSuffix = "00"

	RelContains    = "Contains"
	RelDescribedBy = "DescribedBy"
	RelParent      = "parent"

	QualifierPrimary = "Primary"
	QualifierParent  = "Parent"
)

type Concept struct {
	ID      string
	Current bool
	Domain  string
	Level   int
	Label   string
}

func (c Concept) Key() string { return c.ID }

func (c Concept) Row() []string {
	return []string{c.ID, strconv.FormatBool(c.Current), c.Domain, strconv.Itoa(c.Level), c.Label}
}

type Term struct {
	ID         string
	Current    bool
	Pretty     string
	Searchable string
	Label      string
}

func (t Term) Key() string { return t.ID }

func (t Term) Row() []string {
	return []string{t.ID, strconv.FormatBool(t.Current), t.Pretty, t.Searchable, t.Label}
}

// TermID builds the composite term key; suffixes are only unique within a concept.
func TermID(conceptID, suffix string) string {
	return conceptID + "_" + suffix
}

// NodeRef is the minimum needed to locate a node for deletion.
type NodeRef struct {
	ID    string
	Label string
}

// Relationship is stored with a fixed Node1 -> Node2 direction, but its
// identity is the unordered endpoint pair (see Key).
type Relationship struct {
	Node1      string
	Node1Label string
	Node2      string
	Node2Label string
	Type       string
	Qualifier  string
}

func (r Relationship) Key() RelationshipKey {
	return NewRelationshipKey(Endpoint{Label: r.Node1Label, ID: r.Node1}, Endpoint{Label: r.Node2Label, ID: r.Node2})
}

func (r Relationship) Row() []string {
	return []string{r.Node1, r.Node1Label, r.Node2, r.Node2Label, r.Type, r.Qualifier}
}

// Endpoint qualifies a natural key with its label; keys are only unique per label.
type Endpoint struct {
	Label string
	ID    string
}

func (e Endpoint) less(o Endpoint) bool {
	if e.ID != o.ID {
		return e.ID < o.ID
	}
	return e.Label < o.Label
}

// RelationshipKey is the sorted endpoint pair, so A never sorts after B.
type RelationshipKey struct {
	A Endpoint
	B Endpoint
}

func NewRelationshipKey(x, y Endpoint) RelationshipKey {
	if y.less(x) {
		x, y = y, x
	}
	return RelationshipKey{A: x, B: y}
}

func (k RelationshipKey) Less(o RelationshipKey) bool {
	if k.A != o.A {
		return k.A.less(o.A)
	}
	return k.B.less(o.B)
}

func (k RelationshipKey) String() string {
	return k.A.Label + ":" + k.A.ID + "|" + k.B.Label + ":" + k.B.ID
}

// WordSet holds normalized words. Words carry no format, so sets from
// different ontologies can be unioned directly.
type WordSet map[string]struct{}

func NewWordSet(words ...string) WordSet {
	s := make(WordSet, len(words))
	s.Add(words...)
	return s
}

func (s WordSet) Add(words ...string) {
	for _, w := range words {
		s[w] = struct{}{}
	}
}

func (s WordSet) Has(w string) bool {
	_, ok := s[w]
	return ok
}

func (s WordSet) Union(o WordSet) {
	for w := range o {
		s[w] = struct{}{}
	}
}

func (s WordSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for w := range s {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Snapshot is one parsed version of one ontology. It is not modified once the
// parser returns it.
type Snapshot struct {
	Format        Format
	Concepts      map[string]Concept
	Terms         map[string]Term
	Words         WordSet
	Relationships map[RelationshipKey]Relationship
}

func NewSnapshot(format Format) *Snapshot {
	return &Snapshot{
		Format:        format,
		Concepts:      map[string]Concept{},
		Terms:         map[string]Term{},
		Words:         WordSet{},
		Relationships: map[RelationshipKey]Relationship{},
	}
}

func (s *Snapshot) AddRelationship(r Relationship) {
	s.Relationships[r.Key()] = r
}

func (s *Snapshot) ConceptIDs() []string { return sortedKeys(s.Concepts) }
func (s *Snapshot) TermIDs() []string    { return sortedKeys(s.Terms) }

func (s *Snapshot) RelationshipKeys() []RelationshipKey {
	out := make([]RelationshipKey, 0, len(s.Relationships))
	for k := range s.Relationships {
		out = append(out, k)
	}
	slices.SortFunc(out, CompareRelationshipKeys)
	return out
}

// Equal reports whether two snapshots hold the same entities with the same
// serialized values.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Format != o.Format || len(s.Concepts) != len(o.Concepts) || len(s.Terms) != len(o.Terms) ||
		len(s.Words) != len(o.Words) || len(s.Relationships) != len(o.Relationships) {
		return false
	}
	for k, v := range s.Concepts {
		if w, ok := o.Concepts[k]; !ok || !slices.Equal(v.Row(), w.Row()) {
			return false
		}
	}
	for k, v := range s.Terms {
		if w, ok := o.Terms[k]; !ok || !slices.Equal(v.Row(), w.Row()) {
			return false
		}
	}
	for w := range s.Words {
		if !o.Words.Has(w) {
			return false
		}
	}
	for k, v := range s.Relationships {
		if w, ok := o.Relationships[k]; !ok || !slices.Equal(v.Row(), w.Row()) {
			return false
		}
	}
	return true
}

// CompareRelationshipKeys orders keys for deterministic output.
func CompareRelationshipKeys(a, b RelationshipKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	default:
		return 0
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
