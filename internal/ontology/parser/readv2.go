package parser

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/conceptgraph/internal/ontology/cleaners"
	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

// ReadV2FieldCount is the number of quoted fields on every Read V2 record.
const ReadV2FieldCount = 10

// Positional columns of a Read V2 record, e.g.
// "MELLITUS","02","Type 1 diabetes mellitus","","","00","EN","C10E.","0","0"
const (
	readV2ColDesc30     = 2
	readV2ColDesc60     = 3
	readV2ColDesc198    = 4
	readV2ColTermSuffix = 5
	readV2ColCode       = 7
)

// MinReadV2FieldCount is the smallest record that still carries the code column.
const MinReadV2FieldCount = readV2ColCode + 1

const ctxCheckEvery = 4096

var bracketPrefix = regexp.MustCompile(`^\[.*?\]\s*`)

type ReadV2Options struct {
	// FieldCount overrides ReadV2FieldCount. Some extracts drop the trailing
	// status column. Counts below MinReadV2FieldCount are rejected by Parse.
	FieldCount int
}

type ReadV2 struct {
	fieldCount int
}

func NewReadV2(opts ReadV2Options) *ReadV2 {
	n := opts.FieldCount
	if n <= 0 {
		n = ReadV2FieldCount
	}
	return &ReadV2{fieldCount: n}
}

func (p *ReadV2) Format() model.Format { return model.FormatReadV2 }

// Parse reads a gzip compressed Read V2 file. The first pass collects concepts,
// terms, words and relationships along with the descriptions of the single
// character concepts. The second pass uses that table to fill in every
// concept's domain, since a top level concept may appear after its children.
func (p *ReadV2) Parse(ctx context.Context, r io.Reader) (*model.Snapshot, error) {
	ctx = ctxutil.Default(ctx)
	if p.fieldCount < MinReadV2FieldCount {
		return nil, fmt.Errorf("parser: read v2 field count %d is below %d: %w", p.fieldCount, MinReadV2FieldCount, pkgerrors.ErrInvalidArgument)
	}
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, p.recordErr(0, RecordErrorCompression, "", err)
	}
	defer gz.Close()

	snap := model.NewSnapshot(model.FormatReadV2)
	domains := map[string]string{}

	cr := csv.NewReader(gz)
	cr.FieldsPerRecord = p.fieldCount
	cr.ReuseRecord = true

	for n := 0; ; n++ {
		if n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, p.readErr(err)
		}
		line, _ := cr.FieldPos(0)
		if err := p.addRecord(snap, domains, rec, line); err != nil {
			return nil, err
		}
	}

	if err := p.resolveHierarchy(snap, domains); err != nil {
		return nil, err
	}
	return snap, nil
}

func (p *ReadV2) addRecord(snap *model.Snapshot, domains map[string]string, rec []string, line int) error {
	for i, f := range rec {
		if !utf8.ValidString(f) {
			return p.recordErr(line, RecordErrorEncoding, fmt.Sprintf("field %d is not valid UTF-8", i), nil)
		}
	}

	conceptID := cleaners.CleanCode(rec[readV2ColCode])
	if conceptID == "" {
		return p.recordErr(line, RecordErrorEmptyCode, "", nil)
	}
	suffix := strings.TrimSpace(rec[readV2ColTermSuffix])
	if suffix == "" {
		return p.recordErr(line, RecordErrorEmptyTermID, "concept "+conceptID, nil)
	}
	termID := model.TermID(conceptID, suffix)
	description := firstNonEmpty(rec[readV2ColDesc198], rec[readV2ColDesc60], rec[readV2ColDesc30])
	searchable := strings.ToLower(description)
	conceptLabel := model.FormatReadV2.ConceptLabel()
	termLabel := model.FormatReadV2.TermLabel()

	words := descriptionWords(searchable)
	snap.Words.Add(words...)

	snap.Terms[termID] = model.Term{
		ID:         termID,
		Current:    true,
		Pretty:     description,
		Searchable: searchable,
		Label:      termLabel,
	}
	// Domain is filled in by resolveHierarchy.
	snap.Concepts[conceptID] = model.Concept{
		ID:      conceptID,
		Current: true,
		Level:   utf8.RuneCountInString(conceptID),
		Label:   conceptLabel,
	}

	for _, w := range words {
		snap.AddRelationship(model.Relationship{
			Node1: termID, Node1Label: termLabel,
			Node2: w, Node2Label: model.WordLabel,
			Type: model.RelContains,
		})
	}

	qualifier := ""
	if suffix == model.PrimaryTermSuffix {
		qualifier = model.QualifierPrimary
	}
	snap.AddRelationship(model.Relationship{
		Node1: conceptID, Node1Label: conceptLabel,
		Node2: termID, Node2Label: termLabel,
		Type: model.RelDescribedBy, Qualifier: qualifier,
	})

	if conceptID != topID(conceptID) {
		snap.AddRelationship(model.Relationship{
			Node1: conceptID, Node1Label: conceptLabel,
			Node2: parentID(conceptID), Node2Label: conceptLabel,
			Type: model.RelParent, Qualifier: model.QualifierParent,
		})
	} else if suffix == model.PrimaryTermSuffix {
		domains[conceptID] = description
	}
	return nil
}

// resolveHierarchy fills in domains and checks that every concept below the
// top level has its parent in the same snapshot.
func (p *ReadV2) resolveHierarchy(snap *model.Snapshot, domains map[string]string) error {
	for _, id := range snap.ConceptIDs() {
		top := topID(id)
		domain, ok := domains[top]
		if !ok {
			return &MissingDomainError{Format: string(model.FormatReadV2), ConceptID: id, DomainID: top}
		}
		if id != top {
			if parent := parentID(id); !hasConcept(snap, parent) {
				return &MissingParentError{Format: string(model.FormatReadV2), ConceptID: id, ParentID: parent}
			}
		}
		c := snap.Concepts[id]
		c.Domain = domain
		snap.Concepts[id] = c
	}
	return nil
}

func (p *ReadV2) readErr(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		code := RecordErrorQuoting
		if errors.Is(err, csv.ErrFieldCount) {
			code = RecordErrorFieldCount
		}
		return p.recordErr(pe.StartLine, code, "", pe.Err)
	}
	return p.recordErr(0, RecordErrorCompression, "", err)
}

func (p *ReadV2) recordErr(line int, code RecordErrorCode, detail string, cause error) error {
	return &RecordError{Format: string(model.FormatReadV2), Line: line, Code: code, Detail: detail, Cause: cause}
}

// descriptionWords expects a lowercased description. A leading bracketed tag
// such as "[v]" or "[x]" is dropped so the word glued to it still matches.
func descriptionWords(searchable string) []string {
	return cleaners.CleanWords(strings.Fields(bracketPrefix.ReplaceAllString(searchable, "")))
}

// parentID drops the last rune of id.
func parentID(id string) string {
	_, size := utf8.DecodeLastRuneInString(id)
	return id[:len(id)-size]
}

func topID(id string) string {
	_, size := utf8.DecodeRuneInString(id)
	return id[:size]
}

func hasConcept(snap *model.Snapshot, id string) bool {
	_, ok := snap.Concepts[id]
	return ok
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
