// Package delta computes the add/update/remove change sets that move a graph
// loaded from the previous snapshots to the current ones.
package delta

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/yungbote/conceptgraph/internal/ontology/model"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

// Pair is the current and previous snapshot of one ontology format.
type Pair struct {
	Current  *model.Snapshot
	Previous *model.Snapshot
}

type ConceptChanges struct {
	Add    []model.Concept
	Update []model.Concept
	Remove []model.NodeRef
}

type TermChanges struct {
	Add    []model.Term
	Update []model.Term
	Remove []model.NodeRef
}

// WordChanges has no update set: a word is its own value.
type WordChanges struct {
	Add    []string
	Remove []string
}

type RelationshipChanges struct {
	Add    []model.Relationship
	Update []model.Relationship
	Remove []model.Relationship
}

type Delta struct {
	Formats       []model.Format
	Concepts      ConceptChanges
	Terms         TermChanges
	Words         WordChanges
	Relationships RelationshipChanges
}

type keyed[K comparable] interface {
	Key() K
	Row() []string
}

// Compute diffs each pair and unions the words of every format before diffing
// them, so a word still used by any current snapshot is never removed.
// All change sets are sorted by natural key.
func Compute(pairs ...Pair) (*Delta, error) {
	d := &Delta{}
	seen := map[model.Format]bool{}
	currentWords := model.WordSet{}
	previousWords := model.WordSet{}

	for i, p := range pairs {
		if p.Current == nil || p.Previous == nil {
			return nil, fmt.Errorf("delta: pair %d: %w: missing snapshot", i, pkgerrors.ErrInvalidArgument)
		}
		if p.Current.Format != p.Previous.Format {
			return nil, fmt.Errorf("delta: pair %d: %w: format mismatch %s vs %s", i, pkgerrors.ErrInvalidArgument, p.Current.Format, p.Previous.Format)
		}
		if seen[p.Current.Format] {
			return nil, fmt.Errorf("delta: %w: format %s given twice", pkgerrors.ErrInvalidArgument, p.Current.Format)
		}
		seen[p.Current.Format] = true
		d.Formats = append(d.Formats, p.Current.Format)

		add, update, remove := diffKeyed(p.Current.Concepts, p.Previous.Concepts, cmp.Compare[string])
		d.Concepts.Add = append(d.Concepts.Add, add...)
		d.Concepts.Update = append(d.Concepts.Update, update...)
		for _, c := range remove {
			d.Concepts.Remove = append(d.Concepts.Remove, model.NodeRef{ID: c.ID, Label: c.Label})
		}

		tAdd, tUpdate, tRemove := diffKeyed(p.Current.Terms, p.Previous.Terms, cmp.Compare[string])
		d.Terms.Add = append(d.Terms.Add, tAdd...)
		d.Terms.Update = append(d.Terms.Update, tUpdate...)
		for _, t := range tRemove {
			d.Terms.Remove = append(d.Terms.Remove, model.NodeRef{ID: t.ID, Label: t.Label})
		}

		rAdd, rUpdate, rRemove := diffKeyed(p.Current.Relationships, p.Previous.Relationships, model.CompareRelationshipKeys)
		d.Relationships.Add = append(d.Relationships.Add, rAdd...)
		d.Relationships.Update = append(d.Relationships.Update, rUpdate...)
		d.Relationships.Remove = append(d.Relationships.Remove, rRemove...)

		currentWords.Union(p.Current.Words)
		previousWords.Union(p.Previous.Words)
	}

	d.Words = diffWords(currentWords, previousWords)
	return d, nil
}

// diffKeyed returns current-only values, values whose serialized row changed,
// and previous-only values, each ordered by key.
func diffKeyed[K comparable, V keyed[K]](current, previous map[K]V, compare func(a, b K) int) (add, update, remove []V) {
	for _, k := range sortedKeys(current, compare) {
		cur := current[k]
		prev, ok := previous[k]
		switch {
		case !ok:
			add = append(add, cur)
		case !slices.Equal(cur.Row(), prev.Row()):
			update = append(update, cur)
		}
	}
	for _, k := range sortedKeys(previous, compare) {
		if _, ok := current[k]; !ok {
			remove = append(remove, previous[k])
		}
	}
	return add, update, remove
}

func diffWords(current, previous model.WordSet) WordChanges {
	var out WordChanges
	for _, w := range current.Sorted() {
		if !previous.Has(w) {
			out.Add = append(out.Add, w)
		}
	}
	for _, w := range previous.Sorted() {
		if !current.Has(w) {
			out.Remove = append(out.Remove, w)
		}
	}
	return out
}

func sortedKeys[K comparable, V any](m map[K]V, compare func(a, b K) int) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compare)
	return keys
}

// Summary counts rows per change set.
type Summary struct {
	ConceptsAdd         int `json:"concepts_add"`
	ConceptsUpdate      int `json:"concepts_update"`
	ConceptsRemove      int `json:"concepts_remove"`
	TermsAdd            int `json:"terms_add"`
	TermsUpdate         int `json:"terms_update"`
	TermsRemove         int `json:"terms_remove"`
	WordsAdd            int `json:"words_add"`
	WordsRemove         int `json:"words_remove"`
	RelationshipsAdd    int `json:"relationships_add"`
	RelationshipsUpdate int `json:"relationships_update"`
	RelationshipsRemove int `json:"relationships_remove"`
}

func (d *Delta) Summary() Summary {
	if d == nil {
		return Summary{}
	}
	return Summary{
		ConceptsAdd:         len(d.Concepts.Add),
		ConceptsUpdate:      len(d.Concepts.Update),
		ConceptsRemove:      len(d.Concepts.Remove),
		TermsAdd:            len(d.Terms.Add),
		TermsUpdate:         len(d.Terms.Update),
		TermsRemove:         len(d.Terms.Remove),
		WordsAdd:            len(d.Words.Add),
		WordsRemove:         len(d.Words.Remove),
		RelationshipsAdd:    len(d.Relationships.Add),
		RelationshipsUpdate: len(d.Relationships.Update),
		RelationshipsRemove: len(d.Relationships.Remove),
	}
}

func (s Summary) Total() int {
	return s.ConceptsAdd + s.ConceptsUpdate + s.ConceptsRemove +
		s.TermsAdd + s.TermsUpdate + s.TermsRemove +
		s.WordsAdd + s.WordsRemove +
		s.RelationshipsAdd + s.RelationshipsUpdate + s.RelationshipsRemove
}

// Empty reports whether applying d would change nothing.
func (d *Delta) Empty() bool {
	return d.Summary().Total() == 0
}

// KeyValues flattens the summary for structured logging.
func (s Summary) KeyValues() []interface{} {
	return []interface{}{
		"concepts_add", s.ConceptsAdd, "concepts_update", s.ConceptsUpdate, "concepts_remove", s.ConceptsRemove,
		"terms_add", s.TermsAdd, "terms_update", s.TermsUpdate, "terms_remove", s.TermsRemove,
		"words_add", s.WordsAdd, "words_remove", s.WordsRemove,
		"relationships_add", s.RelationshipsAdd, "relationships_update", s.RelationshipsUpdate, "relationships_remove", s.RelationshipsRemove,
	}
}
