package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/ontology/staging"
	"github.com/yungbote/conceptgraph/internal/pkg/ctxutil"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
	"github.com/yungbote/conceptgraph/internal/platform/neo4jdb"
)

const DefaultBatchSize = 500

// Labels and relationship types are spliced into Cypher, so they must be plain
// identifiers. Everything else goes in as a parameter.
var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var errInvalidLabel = errors.New("invalid label")

// SessionOpener is satisfied by *neo4jdb.Client.
type SessionOpener interface {
	NewSession(ctx context.Context) neo4jdb.Session
}

type OntologyLoaderOptions struct {
	BatchSize int
	Formats   []model.Format
}

// OntologyLoader replays staging tables against the graph.
type OntologyLoader struct {
	db        SessionOpener
	log       *logger.Logger
	batchSize int
	formats   []model.Format

	conceptLabels map[string]bool
	termLabels    map[string]bool
}

func NewOntologyLoader(db SessionOpener, log *logger.Logger, opts OntologyLoaderOptions) (*OntologyLoader, error) {
	if db == nil {
		return nil, fmt.Errorf("graph: ontology loader: %w: nil session opener", pkgerrors.ErrInvalidArgument)
	}
	if log == nil {
		log = logger.NewNop()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	formats := opts.Formats
	if len(formats) == 0 {
		formats = []model.Format{model.FormatReadV2}
	}
	l := &OntologyLoader{
		db:            db,
		log:           log.With("component", "OntologyLoader"),
		batchSize:     batchSize,
		formats:       formats,
		conceptLabels: map[string]bool{},
		termLabels:    map[string]bool{},
	}
	for _, f := range formats {
		for _, label := range []string{f.ConceptLabel(), f.TermLabel()} {
			if !identifierRE.MatchString(label) {
				return nil, fmt.Errorf("graph: ontology loader: %w: format %q", errInvalidLabel, f)
			}
		}
		l.conceptLabels[f.ConceptLabel()] = true
		l.termLabels[f.TermLabel()] = true
	}
	return l, nil
}

type TableResult struct {
	Table   staging.Table
	Rows    int
	Batches int
}

type LoadResult struct {
	Tables []TableResult
}

func (r LoadResult) Rows() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Rows
	}
	return n
}

// Apply asserts the uniqueness constraints and then applies every staging
// table in load order, one session per table and one transaction per batch.
// A failed batch is rolled back; earlier batches stay committed.
func (l *OntologyLoader) Apply(ctx context.Context, stagingDir string) (LoadResult, error) {
	ctx = ctxutil.Default(ctx)
	if err := l.EnsureConstraints(ctx); err != nil {
		return LoadResult{}, err
	}
	var res LoadResult
	for _, t := range staging.LoadOrder() {
		tr, err := l.applyTable(ctx, stagingDir, t)
		res.Tables = append(res.Tables, tr)
		if err != nil {
			return res, err
		}
	}
	l.log.Info("staging applied", "dir", stagingDir, "rows", res.Rows())
	return res, nil
}

// EnsureConstraints is safe to call repeatedly.
func (l *OntologyLoader) EnsureConstraints(ctx context.Context) error {
	session := l.db.NewSession(ctx)
	defer session.Close(ctx)

	for _, stmt := range l.constraintStatements() {
		err := session.WriteTransaction(ctx, func(tx neo4jdb.Tx) error {
			_, err := tx.Run(ctx, stmt, nil)
			return err
		})
		if err != nil {
			return &LoadError{Code: LoadErrorDatabase, Table: "constraints", Cause: err}
		}
	}
	return nil
}

func (l *OntologyLoader) constraintStatements() []string {
	stmts := []string{uniqueConstraint(model.WordLabel, keyProp(model.WordLabel))}
	for _, f := range l.formats {
		stmts = append(stmts,
			uniqueConstraint(f.ConceptLabel(), "id"),
			uniqueConstraint(f.TermLabel(), "id"),
		)
	}
	return stmts
}

func uniqueConstraint(label, prop string) string {
	name := strings.ToLower(label) + "_" + prop + "_unique"
	return fmt.Sprintf("CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE", name, label, prop)
}

func keyProp(label string) string {
	if label == model.WordLabel {
		return "value"
	}
	return "id"
}

type opGroup struct {
	label   string
	label2  string
	relType string
}

type rowOp struct {
	group  opGroup
	key    string
	params map[string]any
}

func (l *OntologyLoader) applyTable(ctx context.Context, dir string, t staging.Table) (TableResult, error) {
	tr := TableResult{Table: t}
	r, err := staging.Open(dir, t)
	if err != nil {
		return tr, &LoadError{Code: LoadErrorStaging, Table: t.String(), Cause: err}
	}
	defer r.Close()

	session := l.db.NewSession(ctx)
	defer session.Close(ctx)

	batch := make([]rowOp, 0, l.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		tr.Batches++
		if err := l.writeBatch(ctx, session, t, tr.Batches, batch); err != nil {
			return err
		}
		tr.Rows += len(batch)
		l.log.Debug("batch committed", "table", t.String(), "batch", tr.Batches, "rows", len(batch))
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return tr, err
		}
		row, line, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return tr, &LoadError{Code: LoadErrorStaging, Table: t.String(), Batch: tr.Batches + 1, Cause: err}
		}
		op, err := l.decode(t, row)
		if err != nil {
			code := LoadErrorStaging
			if errors.Is(err, errInvalidLabel) {
				code = LoadErrorInvalidLabel
			}
			return tr, &LoadError{Code: code, Table: t.String(), Batch: tr.Batches + 1, Key: fmt.Sprintf("line %d", line), Cause: err}
		}
		batch = append(batch, op)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				return tr, err
			}
		}
	}
	if err := flush(); err != nil {
		return tr, err
	}
	if tr.Rows > 0 {
		l.log.Info("staging table applied", "table", t.String(), "rows", tr.Rows, "batches", tr.Batches)
	}
	return tr, nil
}

func (l *OntologyLoader) decode(t staging.Table, row []string) (rowOp, error) {
	switch t.Kind {
	case staging.KindWords:
		w, err := staging.DecodeWord(row)
		if err != nil {
			return rowOp{}, err
		}
		return rowOp{
			group:  opGroup{label: model.WordLabel},
			key:    w,
			params: map[string]any{"key": w, "props": map[string]any{"value": w}},
		}, nil

	case staging.KindConcepts, staging.KindTerms:
		allowed := l.conceptLabels
		if t.Kind == staging.KindTerms {
			allowed = l.termLabels
		}
		if t.Change == staging.ChangeRemove {
			ref, err := staging.DecodeNodeRef(row)
			if err != nil {
				return rowOp{}, err
			}
			if !allowed[ref.Label] {
				return rowOp{}, fmt.Errorf("%w %q for %s", errInvalidLabel, ref.Label, t.Kind)
			}
			return rowOp{group: opGroup{label: ref.Label}, key: ref.ID, params: map[string]any{"key": ref.ID}}, nil
		}
		id, label, props, err := nodeProps(t.Kind, row)
		if err != nil {
			return rowOp{}, err
		}
		if !allowed[label] {
			return rowOp{}, fmt.Errorf("%w %q for %s", errInvalidLabel, label, t.Kind)
		}
		return rowOp{group: opGroup{label: label}, key: id, params: map[string]any{"key": id, "props": props}}, nil

	case staging.KindRelationships:
		rel, err := staging.DecodeRelationship(row)
		if err != nil {
			return rowOp{}, err
		}
		for _, label := range []string{rel.Node1Label, rel.Node2Label} {
			if !l.nodeLabel(label) {
				return rowOp{}, fmt.Errorf("%w %q for relationship endpoint", errInvalidLabel, label)
			}
		}
		g := opGroup{label: rel.Node1Label, label2: rel.Node2Label}
		if t.Change != staging.ChangeRemove {
			if !identifierRE.MatchString(rel.Type) {
				return rowOp{}, fmt.Errorf("%w: relationship type %q", errInvalidLabel, rel.Type)
			}
			g.relType = rel.Type
		}
		props := map[string]any{}
		if rel.Qualifier != "" {
			props["qualifier"] = rel.Qualifier
		}
		return rowOp{
			group:  g,
			key:    rel.Key().String(),
			params: map[string]any{"node1": rel.Node1, "node2": rel.Node2, "props": props},
		}, nil
	}
	return rowOp{}, fmt.Errorf("unknown table kind %q", t.Kind)
}

func (l *OntologyLoader) nodeLabel(label string) bool {
	return label == model.WordLabel || l.conceptLabels[label] || l.termLabels[label]
}

// nodeProps converts a staging row to native property types: level as an
// integer and current as a boolean.
func nodeProps(kind staging.Kind, row []string) (id, label string, props map[string]any, err error) {
	if kind == staging.KindConcepts {
		c, err := staging.DecodeConcept(row)
		if err != nil {
			return "", "", nil, err
		}
		return c.ID, c.Label, map[string]any{
			"id":      c.ID,
			"current": c.Current,
			"domain":  c.Domain,
			"level":   int64(c.Level),
		}, nil
	}
	t, err := staging.DecodeTerm(row)
	if err != nil {
		return "", "", nil, err
	}
	return t.ID, t.Label, map[string]any{
		"id":         t.ID,
		"current":    t.Current,
		"pretty":     t.Pretty,
		"searchable": t.Searchable,
	}, nil
}

func (l *OntologyLoader) writeBatch(ctx context.Context, session neo4jdb.Session, t staging.Table, batchNo int, ops []rowOp) error {
	order, grouped := groupOps(ops)
	err := session.WriteTransaction(ctx, func(tx neo4jdb.Tx) error {
		for _, g := range order {
			if err := l.runGroup(ctx, tx, t, g, grouped[g]); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var le *LoadError
	if errors.As(err, &le) {
		le.Table = t.String()
		le.Batch = batchNo
		return le
	}
	code := LoadErrorDatabase
	if neo4jdb.IsConstraintViolation(err) {
		code = LoadErrorConflict
	}
	return &LoadError{Code: code, Table: t.String(), Batch: batchNo, Cause: err}
}

func groupOps(ops []rowOp) ([]opGroup, map[opGroup][]rowOp) {
	var order []opGroup
	grouped := map[opGroup][]rowOp{}
	for _, op := range ops {
		if _, ok := grouped[op.group]; !ok {
			order = append(order, op.group)
		}
		grouped[op.group] = append(grouped[op.group], op)
	}
	return order, grouped
}

func (l *OntologyLoader) runGroup(ctx context.Context, tx neo4jdb.Tx, t staging.Table, g opGroup, ops []rowOp) error {
	rows := make([]map[string]any, 0, len(ops))
	for _, op := range ops {
		rows = append(rows, op.params)
	}
	params := map[string]any{"rows": rows}

	if t.Kind != staging.KindRelationships {
		_, err := tx.Run(ctx, nodeCypher(t.Change, g.label), params)
		return err
	}
	recs, err := tx.Run(ctx, relationshipCypher(t.Change, g), params)
	if err != nil {
		return err
	}
	if t.Change == staging.ChangeRemove {
		return nil
	}
	return checkRelationshipResult(ops, recs)
}

func nodeCypher(change staging.Change, label string) string {
	prop := keyProp(label)
	switch change {
	case staging.ChangeRemove:
		return fmt.Sprintf(`
UNWIND $rows AS row
MATCH (n:%s {%s: row.key})
DETACH DELETE n
`, label, prop)
	case staging.ChangeUpdate:
		return fmt.Sprintf(`
UNWIND $rows AS row
MERGE (n:%s {%s: row.key})
SET n = row.props
`, label, prop)
	default:
		return fmt.Sprintf(`
UNWIND $rows AS row
CREATE (n:%s)
SET n = row.props
`, label)
	}
}

func relationshipCypher(change staging.Change, g opGroup) string {
	a := fmt.Sprintf("(a:%s {%s: row.node1})", g.label, keyProp(g.label))
	b := fmt.Sprintf("(b:%s {%s: row.node2})", g.label2, keyProp(g.label2))
	switch change {
	case staging.ChangeRemove:
		return fmt.Sprintf(`
UNWIND $rows AS row
MATCH %s-[r]-%s
DELETE r
`, a, b)
	case staging.ChangeUpdate:
		return fmt.Sprintf(`
UNWIND $rows AS row
MATCH %s
MATCH %s
OPTIONAL MATCH (a)-[old]-(b)
DELETE old
WITH DISTINCT a, b, row
CREATE (a)-[r:%s]->(b)
SET r = row.props
RETURN row.node1 AS node1, row.node2 AS node2
`, a, b, g.relType)
	default:
		return fmt.Sprintf(`
UNWIND $rows AS row
MATCH %s
MATCH %s
OPTIONAL MATCH (a)-[existing]-(b)
WITH a, b, row, count(existing) AS existing
CREATE (a)-[r:%s]->(b)
SET r = row.props
RETURN row.node1 AS node1, row.node2 AS node2, existing
`, a, b, g.relType)
	}
}

// checkRelationshipResult matches returned rows back to the batch. A row that
// did not come back had a missing endpoint; a row with existing edges collided
// with an earlier load.
func checkRelationshipResult(ops []rowOp, recs []map[string]any) error {
	returned := map[string]bool{}
	for _, rec := range recs {
		n1, _ := rec["node1"].(string)
		n2, _ := rec["node2"].(string)
		returned[n1+"\x00"+n2] = true
		if existing, ok := rec["existing"].(int64); ok && existing > 0 {
			return &LoadError{Code: LoadErrorConflict, Key: n1 + " -> " + n2, Cause: fmt.Errorf("%d edge(s) already present", existing)}
		}
	}
	for _, op := range ops {
		n1, _ := op.params["node1"].(string)
		n2, _ := op.params["node2"].(string)
		if !returned[n1+"\x00"+n2] {
			return &LoadError{Code: LoadErrorMissingNode, Key: op.key}
		}
	}
	return nil
}

// FindConcept reads a loaded concept back by format and id.
func (l *OntologyLoader) FindConcept(ctx context.Context, format model.Format, id string) (model.Concept, error) {
	ctx = ctxutil.Default(ctx)
	label := format.ConceptLabel()
	if !identifierRE.MatchString(label) {
		return model.Concept{}, fmt.Errorf("graph: find concept: %w %q", errInvalidLabel, label)
	}
	session := l.db.NewSession(ctx)
	defer session.Close(ctx)

	var (
		out   model.Concept
		found bool
	)
	err := session.ReadTransaction(ctx, func(tx neo4jdb.Tx) error {
		recs, err := tx.Run(ctx, fmt.Sprintf(`
MATCH (n:%s {id: $id})
RETURN n.id AS id, n.current AS current, n.domain AS domain, n.level AS level
LIMIT 1
`, label), map[string]any{"id": id})
		if err != nil || len(recs) == 0 {
			return err
		}
		found = true
		out = model.Concept{Label: label}
		out.ID, _ = recs[0]["id"].(string)
		out.Current, _ = recs[0]["current"].(bool)
		out.Domain, _ = recs[0]["domain"].(string)
		if lvl, ok := recs[0]["level"].(int64); ok {
			out.Level = int(lvl)
		}
		return nil
	})
	if err != nil {
		return model.Concept{}, fmt.Errorf("graph: find concept %s/%s: %w", label, id, err)
	}
	if !found {
		return model.Concept{}, fmt.Errorf("graph: find concept %s/%s: %w", label, id, pkgerrors.ErrNotFound)
	}
	return out, nil
}
