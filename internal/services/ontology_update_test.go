package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/conceptgraph/internal/data/graph"
	repos "github.com/yungbote/conceptgraph/internal/data/repos/ontology"
	"github.com/yungbote/conceptgraph/internal/data/repos/testutil"
	types "github.com/yungbote/conceptgraph/internal/domain"
	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/ontology/ontologytest"
	"github.com/yungbote/conceptgraph/internal/ontology/parser"
	"github.com/yungbote/conceptgraph/internal/ontology/staging"
	"github.com/yungbote/conceptgraph/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
)

type fakeLoader struct {
	calls int
	dir   string
	res   graph.LoadResult
	err   error
}

func (f *fakeLoader) Apply(ctx context.Context, dir string) (graph.LoadResult, error) {
	f.calls++
	f.dir = dir
	return f.res, f.err
}

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	b, ok := f.data[uri]
	if !ok {
		return nil, pkgerrors.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func writeSnapshot(t *testing.T, dir, name string, recs ...ontologytest.Record) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, ontologytest.GzipRecords(t, recs...), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	return path
}

func newTestService(t *testing.T, loader GraphLoader, runs repos.LoadRunRepo, objects ObjectOpener) (OntologyUpdateService, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "staging")
	svc := NewOntologyUpdateService(testutil.Logger(t), NewSnapshotOpener(objects), loader, runs, OntologyUpdateOptions{StagingDir: dir})
	return svc, dir
}

func readV2Sources(t *testing.T) []SnapshotSource {
	t.Helper()
	dir := t.TempDir()
	cur := writeSnapshot(t, dir, "current.gz",
		ontologytest.Primary("A", "Infectious disease"),
		ontologytest.Primary("A1", "foo bar"),
	)
	prev := writeSnapshot(t, dir, "previous.gz",
		ontologytest.Primary("A", "Infectious disease"),
	)
	return []SnapshotSource{{Format: model.FormatReadV2, Current: cur, Previous: prev}}
}

func TestOntologyUpdateStage(t *testing.T) {
	svc, dir := newTestService(t, nil, nil, nil)

	res, err := svc.Stage(context.Background(), readV2Sources(t))
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if res.Manifest == nil || res.Load != nil {
		t.Fatalf("Stage: manifest=%v load=%v", res.Manifest, res.Load)
	}
	if res.Summary.ConceptsAdd != 1 || res.Summary.TermsAdd != 1 || res.Summary.WordsAdd != 2 || res.Summary.RelationshipsAdd != 4 {
		t.Fatalf("summary: got=%+v", res.Summary)
	}
	if got := res.Manifest.Rows(staging.ConceptsAdd); got != 1 {
		t.Fatalf("Concepts_Add rows: want=1 got=%d", got)
	}

	r, err := staging.Open(dir, staging.ConceptsAdd)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	row, _, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	c, err := staging.DecodeConcept(row)
	if err != nil {
		t.Fatalf("DecodeConcept: %v", err)
	}
	if c.ID != "A1" || c.Label != "ReadV2_Concept" || c.Domain != "Infectious disease" {
		t.Fatalf("concept: got=%+v", c)
	}
}

func TestOntologyUpdateStageWithoutPrevious(t *testing.T) {
	svc, _ := newTestService(t, nil, nil, nil)
	sources := readV2Sources(t)
	sources[0].Previous = ""

	res, err := svc.Stage(context.Background(), sources)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if res.Summary.ConceptsAdd != 2 || res.Summary.ConceptsRemove != 0 {
		t.Fatalf("summary: got=%+v", res.Summary)
	}
}

func TestOntologyUpdateRunRecordsHistory(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	runs := repos.NewLoadRunRepo(tx, testutil.Logger(t))
	loader := &fakeLoader{res: graph.LoadResult{Tables: []graph.TableResult{
		{Table: staging.ConceptsAdd, Rows: 1, Batches: 1},
		{Table: staging.TermsAdd, Rows: 1, Batches: 1},
	}}}
	svc, dir := newTestService(t, loader, runs, nil)

	res, err := svc.Run(context.Background(), readV2Sources(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if loader.calls != 1 || loader.dir != dir {
		t.Fatalf("loader: calls=%d dir=%q", loader.calls, loader.dir)
	}

	run, err := runs.GetByID(dbctx.Context{Ctx: context.Background()}, res.RunID)
	if err != nil || run == nil {
		t.Fatalf("GetByID: run=%v err=%v", run, err)
	}
	if run.Status != types.LoadRunStatusSucceeded || run.Stage != types.LoadRunStageDone || run.Mode != RunModeAll {
		t.Fatalf("run: status=%q stage=%q mode=%q", run.Status, run.Stage, run.Mode)
	}
	if run.RowsLoaded != 2 || run.FinishedAt == nil || run.Formats != "ReadV2" {
		t.Fatalf("run: rows=%d finished=%v formats=%q", run.RowsLoaded, run.FinishedAt, run.Formats)
	}
	var counts map[string]int
	if err := json.Unmarshal(run.Counts, &counts); err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["concepts_add"] != 1 || counts["relationships_add"] != 4 {
		t.Fatalf("counts: got=%v", counts)
	}
}

func TestOntologyUpdateLoadFailure(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	runs := repos.NewLoadRunRepo(tx, testutil.Logger(t))
	loadErr := &graph.LoadError{Code: graph.LoadErrorConflict, Table: "Concepts_Add", Batch: 1}
	loader := &fakeLoader{
		res: graph.LoadResult{Tables: []graph.TableResult{{Table: staging.WordsRemove}}},
		err: loadErr,
	}
	svc, _ := newTestService(t, loader, runs, nil)

	res, err := svc.Load(context.Background())
	if !errors.Is(err, loadErr) {
		t.Fatalf("Load: expected the load error, got=%v", err)
	}
	run, _ := runs.GetByID(dbctx.Context{Ctx: context.Background()}, res.RunID)
	if run == nil {
		t.Fatalf("run not recorded")
	}
	if run.Status != types.LoadRunStatusFailed || run.Stage != types.LoadRunStageLoad || run.ErrorCode != "conflict" {
		t.Fatalf("run: status=%q stage=%q code=%q", run.Status, run.Stage, run.ErrorCode)
	}
	if !strings.Contains(run.Error, "Concepts_Add") {
		t.Fatalf("run error: got=%q", run.Error)
	}
	var counts map[string]int
	if err := json.Unmarshal(run.Counts, &counts); err != nil {
		t.Fatalf("counts: %v", err)
	}
	if _, ok := counts["words_remove"]; !ok {
		t.Fatalf("counts: got=%v", counts)
	}
}

func TestOntologyUpdateParseFailure(t *testing.T) {
	loader := &fakeLoader{}
	svc, dir := newTestService(t, loader, nil, nil)
	bad := filepath.Join(t.TempDir(), "bad.gz")
	if err := os.WriteFile(bad, []byte("not gzip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := svc.Run(context.Background(), []SnapshotSource{{Format: model.FormatReadV2, Current: bad}})
	var recErr *parser.RecordError
	if !errors.As(err, &recErr) || recErr.Code != parser.RecordErrorCompression {
		t.Fatalf("Run: expected compression RecordError, got=%v", err)
	}
	if ErrorCode(err) != "compression" {
		t.Fatalf("ErrorCode: got=%q", ErrorCode(err))
	}
	if loader.calls != 0 {
		t.Fatalf("loader must not run after a parse failure")
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging dir must not be written after a parse failure: %v", err)
	}
}

func TestOntologyUpdateArguments(t *testing.T) {
	svc, _ := newTestService(t, nil, nil, nil)
	if _, err := svc.Stage(context.Background(), nil); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("Stage(nil): expected ErrInvalidArgument, got=%v", err)
	}
	if _, err := svc.Load(context.Background()); err == nil {
		t.Fatalf("Load without loader: expected error")
	}
	_, err := svc.Stage(context.Background(), []SnapshotSource{{Format: model.FormatCTV3, Current: writeSnapshot(t, t.TempDir(), "ctv3.gz")}})
	if !errors.Is(err, parser.ErrFormatNotImplemented) || ErrorCode(err) != "format_not_implemented" {
		t.Fatalf("CTV3: got=%v", err)
	}
}

func TestSnapshotOpener(t *testing.T) {
	ctx := context.Background()
	data := ontologytest.GzipRecords(t, ontologytest.Primary("A", "Infectious disease"))

	local := NewSnapshotOpener(nil)
	if _, err := local.Open(ctx, filepath.Join(t.TempDir(), "missing.gz")); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("missing file: expected ErrNotFound, got=%v", err)
	}
	if _, err := local.Open(ctx, "gs://trud/readv2.gz"); err == nil {
		t.Fatalf("gs:// without object storage: expected error")
	}
	if _, err := local.Open(ctx, " "); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("empty source: expected ErrInvalidArgument, got=%v", err)
	}

	remote := NewSnapshotOpener(&fakeObjects{data: map[string][]byte{"gs://trud/readv2.gz": data}})
	rc, err := remote.Open(ctx, "gs://trud/readv2.gz")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if !bytes.Equal(got, data) {
		t.Fatalf("object bytes differ")
	}
}

func TestOntologyUpdateMissingParentAbortsBeforeLoad(t *testing.T) {
	loader := &fakeLoader{}
	svc, dir := newTestService(t, loader, nil, nil)
	current := writeSnapshot(t, t.TempDir(), "current.gz",
		ontologytest.Primary("C....", "Circulatory"),
		ontologytest.Primary("C10E.", "Type 1 diabetes mellitus"),
	)

	_, err := svc.Run(context.Background(), []SnapshotSource{{Format: model.FormatReadV2, Current: current}})
	var mpe *parser.MissingParentError
	if !errors.As(err, &mpe) {
		t.Fatalf("Run: expected *MissingParentError, got=%v", err)
	}
	if ErrorCode(err) != "missing_parent" {
		t.Fatalf("ErrorCode: want=%q got=%q", "missing_parent", ErrorCode(err))
	}
	if loader.calls != 0 {
		t.Fatalf("loader must not run after a parse failure")
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("staging dir must not be written after a parse failure: %v", err)
	}
}

func TestOntologyUpdateRejectsShortFieldCount(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "staging")
	svc := NewOntologyUpdateService(testutil.Logger(t), NewSnapshotOpener(nil), nil, nil, OntologyUpdateOptions{StagingDir: dir, ReadV2FieldCount: 5})
	current := writeSnapshot(t, t.TempDir(), "current.gz", ontologytest.Primary("A", "Infectious disease"))

	_, err := svc.Stage(context.Background(), []SnapshotSource{{Format: model.FormatReadV2, Current: current}})
	if !errors.Is(err, pkgerrors.ErrInvalidArgument) || ErrorCode(err) != "invalid_argument" {
		t.Fatalf("Stage: expected invalid_argument, got=%v (%q)", err, ErrorCode(err))
	}
}
