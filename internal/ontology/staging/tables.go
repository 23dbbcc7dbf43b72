// Package staging writes a delta as tab-delimited tables, one per entity kind
// and change kind, and reads them back for the graph loader.
package staging

import (
	"fmt"

	"github.com/yungbote/conceptgraph/internal/ontology/model"
)

type Kind string

const (
	KindConcepts      Kind = "Concepts"
	KindTerms         Kind = "Terms"
	KindWords         Kind = "Words"
	KindRelationships Kind = "Relationships"
)

type Change string

const (
	ChangeAdd    Change = "Add"
	ChangeUpdate Change = "Update"
	ChangeRemove Change = "Remove"
)

type Table struct {
	Kind   Kind
	Change Change
}

var (
	ConceptsAdd         = Table{KindConcepts, ChangeAdd}
	ConceptsUpdate      = Table{KindConcepts, ChangeUpdate}
	ConceptsRemove      = Table{KindConcepts, ChangeRemove}
	TermsAdd            = Table{KindTerms, ChangeAdd}
	TermsUpdate         = Table{KindTerms, ChangeUpdate}
	TermsRemove         = Table{KindTerms, ChangeRemove}
	WordsAdd            = Table{KindWords, ChangeAdd}
	WordsRemove         = Table{KindWords, ChangeRemove}
	RelationshipsAdd    = Table{KindRelationships, ChangeAdd}
	RelationshipsUpdate = Table{KindRelationships, ChangeUpdate}
	RelationshipsRemove = Table{KindRelationships, ChangeRemove}
)

// LoadOrder lists every table in the order the graph must apply them: nodes
// before the relationships that reference them, and within a kind removes
// before updates before adds.
func LoadOrder() []Table {
	return []Table{
		WordsRemove, WordsAdd,
		TermsRemove, TermsUpdate, TermsAdd,
		ConceptsRemove, ConceptsUpdate, ConceptsAdd,
		RelationshipsRemove, RelationshipsUpdate, RelationshipsAdd,
	}
}

func (t Table) String() string { return string(t.Kind) + "_" + string(t.Change) }

func (t Table) FileName() string { return t.String() + ".tsv" }

func (t Table) Valid() bool {
	switch t.Kind {
	case KindConcepts, KindTerms, KindRelationships:
		return t.Change == ChangeAdd || t.Change == ChangeUpdate || t.Change == ChangeRemove
	case KindWords:
		return t.Change == ChangeAdd || t.Change == ChangeRemove
	}
	return false
}

func (t Table) Header() []string {
	switch t.Kind {
	case KindConcepts:
		return []string{"ID", "Current", "Domain", "Level", "Labels"}
	case KindTerms:
		return []string{"ID", "Current", "Pretty", "Searchable", "Labels"}
	case KindWords:
		return []string{"Word", "Labels"}
	case KindRelationships:
		return []string{"Node1", "Node1Label", "Node2", "Node2Label", "Type", "RelationshipLabels"}
	}
	return nil
}

// FormatError reports a staging row that does not match its table's layout.
type FormatError struct {
	Table  Table
	Line   int
	Detail string
	Cause  error
}

func (e *FormatError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("staging %s line %d: %s", e.Table.FileName(), e.Line, e.Detail)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func nodeRemoveRow(ref model.NodeRef) []string {
	return []string{ref.ID, "", "", "", ref.Label}
}

func wordRow(w string) []string {
	return []string{w, model.WordLabel}
}
