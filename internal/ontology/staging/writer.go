package staging

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yungbote/conceptgraph/internal/ontology/delta"
	"github.com/yungbote/conceptgraph/internal/ontology/model"
)

type File struct {
	Table Table
	Path  string
	Rows  int
}

// Manifest describes one staging directory as written by WriteDelta.
type Manifest struct {
	Dir   string
	Files []File
}

func (m Manifest) Rows(t Table) int {
	for _, f := range m.Files {
		if f.Table == t {
			return f.Rows
		}
	}
	return 0
}

// WriteDelta writes all eleven tables into dir, replacing any previous
// contents. Each table is written to a temporary file and renamed into place,
// so a reader never sees a half written table.
func WriteDelta(dir string, d *delta.Delta) (Manifest, error) {
	if d == nil {
		d = &delta.Delta{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Manifest{}, fmt.Errorf("staging: create dir: %w", err)
	}

	tables := map[Table][][]string{
		ConceptsAdd:         conceptRows(d.Concepts.Add),
		ConceptsUpdate:      conceptRows(d.Concepts.Update),
		ConceptsRemove:      refRows(d.Concepts.Remove),
		TermsAdd:            termRows(d.Terms.Add),
		TermsUpdate:         termRows(d.Terms.Update),
		TermsRemove:         refRows(d.Terms.Remove),
		WordsAdd:            wordRows(d.Words.Add),
		WordsRemove:         wordRows(d.Words.Remove),
		RelationshipsAdd:    relationshipRows(d.Relationships.Add),
		RelationshipsUpdate: relationshipRows(d.Relationships.Update),
		RelationshipsRemove: relationshipRows(d.Relationships.Remove),
	}

	m := Manifest{Dir: dir}
	for _, t := range LoadOrder() {
		rows := tables[t]
		path := filepath.Join(dir, t.FileName())
		if err := writeTable(path, t.Header(), rows); err != nil {
			return Manifest{}, fmt.Errorf("staging: write %s: %w", t.FileName(), err)
		}
		m.Files = append(m.Files, File{Table: t, Path: path, Rows: len(rows)})
	}
	return m, nil
}

func writeTable(path string, header []string, rows [][]string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".staging-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	w.Comma = '\t'
	if err = w.Write(header); err != nil {
		return err
	}
	if err = w.WriteAll(rows); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func conceptRows(cs []model.Concept) [][]string {
	out := make([][]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Row())
	}
	return out
}

func termRows(ts []model.Term) [][]string {
	out := make([][]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Row())
	}
	return out
}

func refRows(refs []model.NodeRef) [][]string {
	out := make([][]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, nodeRemoveRow(r))
	}
	return out
}

func wordRows(words []string) [][]string {
	out := make([][]string, 0, len(words))
	for _, w := range words {
		out = append(out, wordRow(w))
	}
	return out
}

func relationshipRows(rs []model.Relationship) [][]string {
	out := make([][]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Row())
	}
	return out
}
