package staging

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/yungbote/conceptgraph/internal/ontology/model"
)

// Reader streams the rows of one staging table.
type Reader struct {
	table Table
	f     *os.File
	cr    *csv.Reader
}

// Open opens a table and checks its header.
func Open(dir string, t Table) (*Reader, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("staging: unknown table %s", t)
	}
	f, err := os.Open(filepath.Join(dir, t.FileName()))
	if err != nil {
		return nil, fmt.Errorf("staging: open %s: %w", t.FileName(), err)
	}
	cr := csv.NewReader(f)
	cr.Comma = '\t'
	cr.FieldsPerRecord = len(t.Header())

	header, err := cr.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, &FormatError{Table: t, Line: 1, Detail: "missing header"}
		}
		return nil, readErr(t, err)
	}
	if !slices.Equal(header, t.Header()) {
		_ = f.Close()
		return nil, &FormatError{Table: t, Line: 1, Detail: fmt.Sprintf("unexpected header %q", header)}
	}
	return &Reader{table: t, f: f, cr: cr}, nil
}

func (r *Reader) Table() Table { return r.table }

// Read returns the next row and its line number, or io.EOF.
func (r *Reader) Read() ([]string, int, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, io.EOF
		}
		return nil, 0, readErr(r.table, err)
	}
	line, _ := r.cr.FieldPos(0)
	return rec, line, nil
}

func (r *Reader) Close() error {
	if r == nil || r.f == nil {
		return nil
	}
	return r.f.Close()
}

func readErr(t Table, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &FormatError{Table: t, Line: pe.StartLine, Detail: "malformed row", Cause: pe.Err}
	}
	return fmt.Errorf("staging: read %s: %w", t.FileName(), err)
}

// DecodeConcept parses a Concepts_Add or Concepts_Update row.
func DecodeConcept(row []string) (model.Concept, error) {
	if len(row) != 5 {
		return model.Concept{}, fmt.Errorf("concept row has %d fields", len(row))
	}
	current, err := strconv.ParseBool(row[1])
	if err != nil {
		return model.Concept{}, fmt.Errorf("concept %s: current: %w", row[0], err)
	}
	level, err := strconv.Atoi(row[3])
	if err != nil {
		return model.Concept{}, fmt.Errorf("concept %s: level: %w", row[0], err)
	}
	return model.Concept{ID: row[0], Current: current, Domain: row[2], Level: level, Label: row[4]}, nil
}

// DecodeTerm parses a Terms_Add or Terms_Update row.
func DecodeTerm(row []string) (model.Term, error) {
	if len(row) != 5 {
		return model.Term{}, fmt.Errorf("term row has %d fields", len(row))
	}
	current, err := strconv.ParseBool(row[1])
	if err != nil {
		return model.Term{}, fmt.Errorf("term %s: current: %w", row[0], err)
	}
	return model.Term{ID: row[0], Current: current, Pretty: row[2], Searchable: row[3], Label: row[4]}, nil
}

// DecodeNodeRef parses a concept or term remove row.
func DecodeNodeRef(row []string) (model.NodeRef, error) {
	if len(row) != 5 {
		return model.NodeRef{}, fmt.Errorf("remove row has %d fields", len(row))
	}
	if row[0] == "" || row[4] == "" {
		return model.NodeRef{}, fmt.Errorf("remove row needs id and label")
	}
	return model.NodeRef{ID: row[0], Label: row[4]}, nil
}

func DecodeWord(row []string) (string, error) {
	if len(row) != 2 || row[0] == "" {
		return "", fmt.Errorf("word row needs a value")
	}
	return row[0], nil
}

func DecodeRelationship(row []string) (model.Relationship, error) {
	if len(row) != 6 {
		return model.Relationship{}, fmt.Errorf("relationship row has %d fields", len(row))
	}
	return model.Relationship{
		Node1: row[0], Node1Label: row[1],
		Node2: row[2], Node2Label: row[3],
		Type: row[4], Qualifier: row[5],
	}, nil
}
