package graph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/conceptgraph/internal/ontology/delta"
	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/ontology/staging"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
	"github.com/yungbote/conceptgraph/internal/platform/neo4jdb"
)

type fakeStatement struct {
	cypher string
	params map[string]any
}

type fakeDB struct {
	respond    func(cypher string, params map[string]any) ([]map[string]any, error)
	committed  [][]fakeStatement
	rolledBack int
	sessions   int
}

func (f *fakeDB) NewSession(ctx context.Context) neo4jdb.Session {
	f.sessions++
	return &fakeSession{db: f}
}

type fakeSession struct{ db *fakeDB }

func (s *fakeSession) WriteTransaction(ctx context.Context, fn func(neo4jdb.Tx) error) error {
	tx := &fakeTx{db: s.db}
	if err := fn(tx); err != nil {
		s.db.rolledBack++
		return err
	}
	s.db.committed = append(s.db.committed, tx.stmts)
	return nil
}

func (s *fakeSession) ReadTransaction(ctx context.Context, fn func(neo4jdb.Tx) error) error {
	return s.WriteTransaction(ctx, fn)
}

func (s *fakeSession) Close(ctx context.Context) error { return nil }

type fakeTx struct {
	db    *fakeDB
	stmts []fakeStatement
}

func (t *fakeTx) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	t.stmts = append(t.stmts, fakeStatement{cypher: cypher, params: params})
	if t.db.respond != nil {
		return t.db.respond(cypher, params)
	}
	return echoRelationships(params), nil
}

// echoRelationships answers as if every endpoint exists and no edge does.
func echoRelationships(params map[string]any) []map[string]any {
	rows, _ := params["rows"].([]map[string]any)
	var out []map[string]any
	for _, row := range rows {
		if n1, ok := row["node1"]; ok {
			out = append(out, map[string]any{"node1": n1, "node2": row["node2"], "existing": int64(0)})
		}
	}
	return out
}

func (f *fakeDB) dataStatements() []fakeStatement {
	var out []fakeStatement
	for _, tx := range f.committed {
		for _, s := range tx {
			if !strings.HasPrefix(s.cypher, "CREATE CONSTRAINT") {
				out = append(out, s)
			}
		}
	}
	return out
}

func stageDelta(t *testing.T, d *delta.Delta) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := staging.WriteDelta(dir, d); err != nil {
		t.Fatalf("WriteDelta: %v", err)
	}
	return dir
}

func newLoader(t *testing.T, db *fakeDB, batchSize int) *OntologyLoader {
	t.Helper()
	l, err := NewOntologyLoader(db, logger.NewNop(), OntologyLoaderOptions{BatchSize: batchSize})
	if err != nil {
		t.Fatalf("NewOntologyLoader: %v", err)
	}
	return l
}

func a1Delta() *delta.Delta {
	return &delta.Delta{
		Concepts: delta.ConceptChanges{
			Add:    []model.Concept{{ID: "A1", Current: true, Domain: "Infectious diseases", Level: 2, Label: "ReadV2_Concept"}},
			Remove: []model.NodeRef{{ID: "A9", Label: "ReadV2_Concept"}},
		},
		Terms: delta.TermChanges{
			Add: []model.Term{{ID: "A1_00", Current: true, Pretty: "foo bar", Searchable: "foo bar", Label: "ReadV2_Term"}},
		},
		Words: delta.WordChanges{Add: []string{"bar", "foo"}, Remove: []string{"old"}},
		Relationships: delta.RelationshipChanges{
			Add: []model.Relationship{
				{Node1: "A1", Node1Label: "ReadV2_Concept", Node2: "A1_00", Node2Label: "ReadV2_Term", Type: model.RelDescribedBy, Qualifier: model.QualifierPrimary},
				{Node1: "A1_00", Node1Label: "ReadV2_Term", Node2: "bar", Node2Label: model.WordLabel, Type: model.RelContains},
			},
		},
	}
}

func TestApplyOrderAndStatements(t *testing.T) {
	db := &fakeDB{}
	l := newLoader(t, db, 0)
	res, err := l.Apply(context.Background(), stageDelta(t, a1Delta()))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Rows() != 8 {
		t.Fatalf("rows: want=8 got=%d", res.Rows())
	}

	if len(db.committed) == 0 || !strings.Contains(db.committed[0][0].cypher, "word_value_unique") {
		t.Fatalf("constraints must be asserted first")
	}

	stmts := db.dataStatements()
	want := []string{
		"MATCH (n:Word {value: row.key})\nDETACH DELETE n",
		"CREATE (n:Word)",
		"CREATE (n:ReadV2_Term)",
		"MATCH (n:ReadV2_Concept {id: row.key})\nDETACH DELETE n",
		"CREATE (n:ReadV2_Concept)",
		"CREATE (a)-[r:DescribedBy]->(b)",
		"CREATE (a)-[r:Contains]->(b)",
	}
	if len(stmts) != len(want) {
		t.Fatalf("statements: want=%d got=%d", len(want), len(stmts))
	}
	for i, frag := range want {
		if !strings.Contains(stmts[i].cypher, frag) {
			t.Fatalf("statement %d: want fragment %q in:\n%s", i, frag, stmts[i].cypher)
		}
	}
	// One session for constraints, one per staging table.
	if db.sessions != 12 {
		t.Fatalf("sessions: want=12 got=%d", db.sessions)
	}
}

func TestApplyCoercesNativeTypes(t *testing.T) {
	db := &fakeDB{}
	l := newLoader(t, db, 0)
	if _, err := l.Apply(context.Background(), stageDelta(t, a1Delta())); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	for _, s := range db.dataStatements() {
		if !strings.Contains(s.cypher, "CREATE (n:ReadV2_Concept)") {
			continue
		}
		rows := s.params["rows"].([]map[string]any)
		props := rows[0]["props"].(map[string]any)
		if lvl, ok := props["level"].(int64); !ok || lvl != 2 {
			t.Fatalf("level: want int64(2) got=%T(%v)", props["level"], props["level"])
		}
		if cur, ok := props["current"].(bool); !ok || !cur {
			t.Fatalf("current: want bool(true) got=%T(%v)", props["current"], props["current"])
		}
		return
	}
	t.Fatalf("concept add statement not found")
}

func TestApplyBatches(t *testing.T) {
	db := &fakeDB{}
	l := newLoader(t, db, 2)
	d := &delta.Delta{Words: delta.WordChanges{Add: []string{"a1", "b2", "c3", "d4", "e5"}}}
	res, err := l.Apply(context.Background(), stageDelta(t, d))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	var words TableResult
	for _, tr := range res.Tables {
		if tr.Table == staging.WordsAdd {
			words = tr
		}
	}
	if words.Rows != 5 || words.Batches != 3 {
		t.Fatalf("Words_Add: want rows=5 batches=3 got rows=%d batches=%d", words.Rows, words.Batches)
	}
	var sizes []int
	for _, s := range db.dataStatements() {
		sizes = append(sizes, len(s.params["rows"].([]map[string]any)))
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("batch sizes: got=%v", sizes)
	}
}

func TestApplyGroupsByRelationshipType(t *testing.T) {
	db := &fakeDB{}
	l := newLoader(t, db, 0)
	d := &delta.Delta{Relationships: delta.RelationshipChanges{Update: []model.Relationship{
		{Node1: "A1", Node1Label: "ReadV2_Concept", Node2: "A", Node2Label: "ReadV2_Concept", Type: model.RelParent, Qualifier: model.QualifierParent},
		{Node1: "A1", Node1Label: "ReadV2_Concept", Node2: "A1_00", Node2Label: "ReadV2_Term", Type: model.RelDescribedBy},
		{Node1: "A2", Node1Label: "ReadV2_Concept", Node2: "A", Node2Label: "ReadV2_Concept", Type: model.RelParent, Qualifier: model.QualifierParent},
	}}}
	if _, err := l.Apply(context.Background(), stageDelta(t, d)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	stmts := db.dataStatements()
	if len(stmts) != 2 {
		t.Fatalf("statements: want=2 got=%d", len(stmts))
	}
	if !strings.Contains(stmts[0].cypher, "[r:parent]") || len(stmts[0].params["rows"].([]map[string]any)) != 2 {
		t.Fatalf("parent group: %s %v", stmts[0].cypher, stmts[0].params)
	}
	if !strings.Contains(stmts[1].cypher, "DELETE old") {
		t.Fatalf("update must replace existing edges:\n%s", stmts[1].cypher)
	}
	props := stmts[1].params["rows"].([]map[string]any)[0]["props"].(map[string]any)
	if _, ok := props["qualifier"]; ok {
		t.Fatalf("empty qualifier must not be stored: %v", props)
	}
}

func TestApplyConstraintViolationIsConflict(t *testing.T) {
	db := &fakeDB{respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
		if strings.Contains(cypher, "CREATE (n:Word)") {
			return nil, &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed", Msg: "already exists"}
		}
		return nil, nil
	}}
	l := newLoader(t, db, 0)
	_, err := l.Apply(context.Background(), stageDelta(t, a1Delta()))
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got=%v", err)
	}
	if le.Code != LoadErrorConflict || le.Table != "Words_Add" || le.Batch != 1 {
		t.Fatalf("LoadError: got code=%s table=%s batch=%d", le.Code, le.Table, le.Batch)
	}
	if db.rolledBack != 1 {
		t.Fatalf("rolled back: want=1 got=%d", db.rolledBack)
	}
}

func TestApplyExistingEdgeIsConflict(t *testing.T) {
	db := &fakeDB{respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
		out := echoRelationships(params)
		for _, rec := range out {
			rec["existing"] = int64(1)
		}
		return out, nil
	}}
	l := newLoader(t, db, 0)
	_, err := l.Apply(context.Background(), stageDelta(t, a1Delta()))
	var le *LoadError
	if !errors.As(err, &le) || le.Code != LoadErrorConflict || le.Table != "Relationships_Add" {
		t.Fatalf("expected relationship conflict, got=%v", err)
	}
}

func TestApplyMissingEndpoint(t *testing.T) {
	db := &fakeDB{respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
		if strings.Contains(cypher, "[r:Contains]") {
			return nil, nil
		}
		return echoRelationships(params), nil
	}}
	l := newLoader(t, db, 0)
	_, err := l.Apply(context.Background(), stageDelta(t, a1Delta()))
	var le *LoadError
	if !errors.As(err, &le) || le.Code != LoadErrorMissingNode {
		t.Fatalf("expected missing_node, got=%v", err)
	}
	if !strings.Contains(le.Key, "bar") {
		t.Fatalf("key should name the edge: %q", le.Key)
	}
}

func TestApplyRejectsUnsafeLabel(t *testing.T) {
	dir := stageDelta(t, &delta.Delta{})
	body := "ID\tCurrent\tDomain\tLevel\tLabels\nX\ttrue\tD\t1\tReadV2_Concept) DETACH DELETE (m\n"
	if err := os.WriteFile(filepath.Join(dir, staging.ConceptsAdd.FileName()), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	db := &fakeDB{}
	l := newLoader(t, db, 0)
	_, err := l.Apply(context.Background(), dir)
	var le *LoadError
	if !errors.As(err, &le) || le.Code != LoadErrorInvalidLabel {
		t.Fatalf("expected invalid_label, got=%v", err)
	}
	if n := len(db.dataStatements()); n != 0 {
		t.Fatalf("no statement may run for a rejected row, got %d", n)
	}
}

func TestApplyMissingStagingTable(t *testing.T) {
	dir := stageDelta(t, &delta.Delta{})
	if err := os.Remove(filepath.Join(dir, staging.TermsAdd.FileName())); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	_, err := newLoader(t, &fakeDB{}, 0).Apply(context.Background(), dir)
	var le *LoadError
	if !errors.As(err, &le) || le.Code != LoadErrorStaging || le.Table != "Terms_Add" {
		t.Fatalf("expected staging error for Terms_Add, got=%v", err)
	}
}

func TestEnsureConstraintsPerFormat(t *testing.T) {
	db := &fakeDB{}
	l, err := NewOntologyLoader(db, nil, OntologyLoaderOptions{Formats: []model.Format{model.FormatReadV2, model.FormatSNOMEDCT}})
	if err != nil {
		t.Fatalf("NewOntologyLoader: %v", err)
	}
	if err := l.EnsureConstraints(context.Background()); err != nil {
		t.Fatalf("EnsureConstraints: %v", err)
	}
	var got []string
	for _, tx := range db.committed {
		for _, s := range tx {
			got = append(got, s.cypher)
		}
	}
	want := []string{
		"CREATE CONSTRAINT word_value_unique IF NOT EXISTS FOR (n:Word) REQUIRE n.value IS UNIQUE",
		"CREATE CONSTRAINT readv2_concept_id_unique IF NOT EXISTS FOR (n:ReadV2_Concept) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT readv2_term_id_unique IF NOT EXISTS FOR (n:ReadV2_Term) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT snomed_ct_concept_id_unique IF NOT EXISTS FOR (n:SNOMED_CT_Concept) REQUIRE n.id IS UNIQUE",
		"CREATE CONSTRAINT snomed_ct_term_id_unique IF NOT EXISTS FOR (n:SNOMED_CT_Term) REQUIRE n.id IS UNIQUE",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("constraints:\nwant=%v\ngot=%v", want, got)
	}
}

func TestFindConcept(t *testing.T) {
	db := &fakeDB{respond: func(cypher string, params map[string]any) ([]map[string]any, error) {
		if params["id"] != "A1" {
			return nil, nil
		}
		return []map[string]any{{"id": "A1", "current": true, "domain": "Infectious diseases", "level": int64(2)}}, nil
	}}
	l := newLoader(t, db, 0)
	c, err := l.FindConcept(context.Background(), model.FormatReadV2, "A1")
	if err != nil {
		t.Fatalf("FindConcept: %v", err)
	}
	want := model.Concept{ID: "A1", Current: true, Domain: "Infectious diseases", Level: 2, Label: "ReadV2_Concept"}
	if c != want {
		t.Fatalf("FindConcept: want=%+v got=%+v", want, c)
	}
	if _, err := l.FindConcept(context.Background(), model.FormatReadV2, "ZZ"); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got=%v", err)
	}
}
