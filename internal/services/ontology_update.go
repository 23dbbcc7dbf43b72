package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"

	"github.com/yungbote/conceptgraph/internal/data/graph"
	repos "github.com/yungbote/conceptgraph/internal/data/repos/ontology"
	types "github.com/yungbote/conceptgraph/internal/domain"
	"github.com/yungbote/conceptgraph/internal/observability"
	"github.com/yungbote/conceptgraph/internal/ontology/delta"
	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/ontology/parser"
	"github.com/yungbote/conceptgraph/internal/ontology/staging"
	"github.com/yungbote/conceptgraph/internal/pkg/ctxutil"
	"github.com/yungbote/conceptgraph/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
	"github.com/yungbote/conceptgraph/internal/platform/gcp"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

const (
	RunModeAll   = "all"
	RunModeStage = "stage"
	RunModeLoad  = "load"
)

// SnapshotSource names the two releases diffed for one format. Either may be a
// local path or a gs:// object. An empty Previous means a first load against
// an empty graph.
type SnapshotSource struct {
	Format   model.Format
	Current  string
	Previous string
}

type SnapshotOpener interface {
	Open(ctx context.Context, source string) (io.ReadCloser, error)
}

// ObjectOpener is satisfied by *gcp.ObjectReader.
type ObjectOpener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

type snapshotOpener struct {
	objects ObjectOpener
}

// NewSnapshotOpener opens local files directly and gs:// sources through
// objects, which may be nil when object storage is not configured.
func NewSnapshotOpener(objects ObjectOpener) SnapshotOpener {
	return &snapshotOpener{objects: objects}
}

func (o *snapshotOpener) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("open snapshot: %w: empty source", pkgerrors.ErrInvalidArgument)
	}
	if gcp.IsObjectURI(source) {
		if o.objects == nil {
			return nil, fmt.Errorf("open snapshot %s: object storage not configured", source)
		}
		return o.objects.Open(ctx, source)
	}
	f, err := os.Open(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open snapshot %s: %w", source, pkgerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("open snapshot %s: %w", source, err)
	}
	return f, nil
}

// GraphLoader is satisfied by *graph.OntologyLoader.
type GraphLoader interface {
	Apply(ctx context.Context, stagingDir string) (graph.LoadResult, error)
}

type OntologyUpdateOptions struct {
	StagingDir       string
	ReadV2FieldCount int
}

type RunResult struct {
	// RunID is uuid.Nil when no run history is configured.
	RunID    uuid.UUID
	Mode     string
	Summary  delta.Summary
	Manifest *staging.Manifest
	Load     *graph.LoadResult
}

type OntologyUpdateService interface {
	// Stage parses every source, diffs current against previous and writes
	// the staging tables.
	Stage(ctx context.Context, sources []SnapshotSource) (RunResult, error)
	// Load applies whatever is in the staging directory to the graph.
	Load(ctx context.Context) (RunResult, error)
	// Run stages and then loads, recorded as a single run.
	Run(ctx context.Context, sources []SnapshotSource) (RunResult, error)
}

type ontologyUpdateService struct {
	log     *logger.Logger
	opener  SnapshotOpener
	loader  GraphLoader
	runs    repos.LoadRunRepo
	opts    OntologyUpdateOptions
	nowFunc func() time.Time
}

// NewOntologyUpdateService wires the pipeline. loader may be nil for
// stage-only use and runs may be nil when no run history is kept.
func NewOntologyUpdateService(
	baseLog *logger.Logger,
	opener SnapshotOpener,
	loader GraphLoader,
	runs repos.LoadRunRepo,
	opts OntologyUpdateOptions,
) OntologyUpdateService {
	if opener == nil {
		opener = NewSnapshotOpener(nil)
	}
	if strings.TrimSpace(opts.StagingDir) == "" {
		opts.StagingDir = "./data/staging"
	}
	return &ontologyUpdateService{
		log:     baseLog.With("service", "OntologyUpdateService"),
		opener:  opener,
		loader:  loader,
		runs:    runs,
		opts:    opts,
		nowFunc: time.Now,
	}
}

func (s *ontologyUpdateService) Stage(ctx context.Context, sources []SnapshotSource) (RunResult, error) {
	return s.execute(ctx, RunModeStage, sources)
}

func (s *ontologyUpdateService) Load(ctx context.Context) (RunResult, error) {
	return s.execute(ctx, RunModeLoad, nil)
}

func (s *ontologyUpdateService) Run(ctx context.Context, sources []SnapshotSource) (RunResult, error) {
	return s.execute(ctx, RunModeAll, sources)
}

func (s *ontologyUpdateService) execute(ctx context.Context, mode string, sources []SnapshotSource) (res RunResult, err error) {
	ctx = ctxutil.Default(ctx)
	res.Mode = mode
	staged := mode == RunModeAll || mode == RunModeStage
	loads := mode == RunModeAll || mode == RunModeLoad
	if staged && len(sources) == 0 {
		return res, fmt.Errorf("ontology update: %w: no snapshot sources", pkgerrors.ErrInvalidArgument)
	}
	if loads && s.loader == nil {
		return res, fmt.Errorf("ontology update: graph loader not configured")
	}

	ctx, span := observability.StartSpan(ctx, "ontology.update",
		attribute.String("mode", mode),
		attribute.String("staging_dir", s.opts.StagingDir),
	)
	defer func() { observability.EndSpan(span, err) }()

	run := s.startRun(ctx, mode, sources)
	if run != nil {
		res.RunID = run.ID
	}
	log := s.log.With("mode", mode, "run_id", res.RunID.String())
	stage := types.LoadRunStageParse
	defer func() {
		if err != nil {
			log.Error("ontology update failed", "stage", stage, "error", err)
			s.finishRun(ctx, run, types.LoadRunStatusFailed, stage, res, err)
			return
		}
		s.finishRun(ctx, run, types.LoadRunStatusSucceeded, types.LoadRunStageDone, res, nil)
	}()

	if staged {
		pairs, perr := s.parseAll(ctx, sources)
		if perr != nil {
			return res, perr
		}

		stage = types.LoadRunStageDiff
		s.advanceRun(ctx, run, stage)
		d, derr := s.diff(ctx, pairs)
		if derr != nil {
			return res, derr
		}
		res.Summary = d.Summary()
		log.Info("delta computed", res.Summary.KeyValues()...)

		stage = types.LoadRunStageStage
		s.advanceRun(ctx, run, stage)
		manifest, werr := s.writeStaging(ctx, d)
		if werr != nil {
			return res, werr
		}
		res.Manifest = &manifest
	}

	if loads {
		stage = types.LoadRunStageLoad
		s.advanceRun(ctx, run, stage)
		lr, lerr := s.loader.Apply(ctx, s.opts.StagingDir)
		res.Load = &lr
		if lerr != nil {
			return res, lerr
		}
		log.Info("graph updated", "rows", lr.Rows())
	}
	return res, nil
}

func (s *ontologyUpdateService) parseAll(ctx context.Context, sources []SnapshotSource) ([]delta.Pair, error) {
	pairs := make([]delta.Pair, 0, len(sources))
	for _, src := range sources {
		p, err := s.parserFor(src.Format)
		if err != nil {
			return nil, err
		}
		cur, err := s.parseSource(ctx, p, src.Current, "current")
		if err != nil {
			return nil, err
		}
		prev := model.NewSnapshot(src.Format)
		if strings.TrimSpace(src.Previous) != "" {
			prev, err = s.parseSource(ctx, p, src.Previous, "previous")
			if err != nil {
				return nil, err
			}
		} else {
			s.log.Warn("no previous snapshot; diffing against an empty release", "format", string(src.Format))
		}
		pairs = append(pairs, delta.Pair{Current: cur, Previous: prev})
	}
	return pairs, nil
}

func (s *ontologyUpdateService) parserFor(f model.Format) (parser.Parser, error) {
	if f == model.FormatReadV2 {
		return parser.NewReadV2(parser.ReadV2Options{FieldCount: s.opts.ReadV2FieldCount}), nil
	}
	return parser.ForFormat(f)
}

func (s *ontologyUpdateService) parseSource(ctx context.Context, p parser.Parser, source, role string) (snap *model.Snapshot, err error) {
	ctx, span := observability.StartSpan(ctx, "ontology.parse",
		attribute.String("format", string(p.Format())),
		attribute.String("role", role),
	)
	defer func() { observability.EndSpan(span, err) }()

	started := s.nowFunc()
	rc, err := s.opener.Open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	snap, err = p.Parse(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("parse %s snapshot %s: %w", role, source, err)
	}
	span.SetAttributes(
		attribute.Int("concepts", len(snap.Concepts)),
		attribute.Int("terms", len(snap.Terms)),
		attribute.Int("words", len(snap.Words)),
	)
	s.log.Info("snapshot parsed",
		"format", string(p.Format()),
		"role", role,
		"source", source,
		"concepts", len(snap.Concepts),
		"terms", len(snap.Terms),
		"words", len(snap.Words),
		"relationships", len(snap.Relationships),
		"elapsed", s.nowFunc().Sub(started).String(),
	)
	return snap, nil
}

func (s *ontologyUpdateService) diff(ctx context.Context, pairs []delta.Pair) (d *delta.Delta, err error) {
	_, span := observability.StartSpan(ctx, "ontology.diff")
	defer func() { observability.EndSpan(span, err) }()
	d, err = delta.Compute(pairs...)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", d.Summary().Total()))
	return d, nil
}

func (s *ontologyUpdateService) writeStaging(ctx context.Context, d *delta.Delta) (m staging.Manifest, err error) {
	_, span := observability.StartSpan(ctx, "ontology.stage", attribute.String("dir", s.opts.StagingDir))
	defer func() { observability.EndSpan(span, err) }()
	m, err = staging.WriteDelta(s.opts.StagingDir, d)
	if err != nil {
		return staging.Manifest{}, err
	}
	s.log.Info("staging tables written", "dir", m.Dir, "tables", len(m.Files))
	return m, nil
}

func (s *ontologyUpdateService) startRun(ctx context.Context, mode string, sources []SnapshotSource) *types.LoadRun {
	if s.runs == nil {
		return nil
	}
	formats := make([]string, 0, len(sources))
	current := make([]string, 0, len(sources))
	previous := make([]string, 0, len(sources))
	for _, src := range sources {
		formats = append(formats, string(src.Format))
		current = append(current, src.Current)
		previous = append(previous, src.Previous)
	}
	stage := types.LoadRunStageParse
	if mode == RunModeLoad {
		stage = types.LoadRunStageLoad
	}
	run, err := s.runs.Create(dbctx.Context{Ctx: ctx}, &types.LoadRun{
		Mode:           mode,
		Formats:        strings.Join(formats, ","),
		CurrentSource:  strings.Join(current, ","),
		PreviousSource: strings.Join(previous, ","),
		StagingDir:     s.opts.StagingDir,
		Status:         types.LoadRunStatusRunning,
		Stage:          stage,
		StartedAt:      s.nowFunc().UTC(),
	})
	if err != nil {
		s.log.Warn("run history: create failed (continuing)", "error", err)
		return nil
	}
	return run
}

func (s *ontologyUpdateService) advanceRun(ctx context.Context, run *types.LoadRun, stage string) {
	if s.runs == nil || run == nil {
		return
	}
	if err := s.runs.UpdateFields(dbctx.Context{Ctx: ctx}, run.ID, map[string]interface{}{"stage": stage}); err != nil {
		s.log.Warn("run history: update failed (continuing)", "run_id", run.ID.String(), "error", err)
	}
}

func (s *ontologyUpdateService) finishRun(ctx context.Context, run *types.LoadRun, status, stage string, res RunResult, runErr error) {
	if s.runs == nil || run == nil {
		return
	}
	updates := map[string]interface{}{"stage": stage}
	if counts := runCounts(res); counts != nil {
		if raw, err := json.Marshal(counts); err == nil {
			updates["counts"] = datatypes.JSON(raw)
		}
	}
	if res.Load != nil {
		updates["rows_loaded"] = res.Load.Rows()
	}
	if runErr != nil {
		updates["error"] = runErr.Error()
		updates["error_code"] = ErrorCode(runErr)
	}
	// The pipeline context may already be cancelled; history still gets written.
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	if err := s.runs.Finish(dbc, run.ID, status, updates); err != nil {
		s.log.Warn("run history: finish failed", "run_id", run.ID.String(), "error", err)
	}
}

// runCounts prefers the delta summary; a load-only run reports the rows it
// found in each staging table instead.
func runCounts(res RunResult) any {
	if res.Manifest != nil {
		return res.Summary
	}
	if res.Load == nil {
		return nil
	}
	counts := map[string]int{}
	for _, t := range res.Load.Tables {
		counts[strings.ToLower(t.Table.String())] = t.Rows
	}
	return counts
}

// ErrorCode extracts the machine readable code from pipeline errors.
func ErrorCode(err error) string {
	var (
		loadErr   *graph.LoadError
		recordErr *parser.RecordError
		domainErr *parser.MissingDomainError
		parentErr *parser.MissingParentError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &loadErr):
		return string(loadErr.Code)
	case errors.As(err, &recordErr):
		return string(recordErr.Code)
	case errors.As(err, &domainErr):
		return "missing_domain"
	case errors.As(err, &parentErr):
		return "missing_parent"
	case errors.Is(err, parser.ErrFormatNotImplemented):
		return "format_not_implemented"
	case errors.Is(err, pkgerrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, pkgerrors.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
