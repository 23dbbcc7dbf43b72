package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/conceptgraph/internal/app"
	"github.com/yungbote/conceptgraph/internal/data/db"
	ontologyrepos "github.com/yungbote/conceptgraph/internal/data/repos/ontology"
	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/conceptgraph/internal/pkg/errors"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

// sourceList collects -current/-previous values. A value is either a path,
// which applies to the first format, or format=path.
type sourceList []string

func (l *sourceList) String() string { return strings.Join(*l, ",") }
func (l *sourceList) Set(v string) error {
	v = strings.TrimSpace(v)
	if v != "" {
		*l = append(*l, v)
	}
	return nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the process exit code so deferred cleanup, the load lock
// release in particular, happens before the process exits.
func run(args []string) int {
	var (
		mode       string
		current    sourceList
		previous   sourceList
		stagingDir string
		batchSize  int
		formats    string
		history    int
	)
	fs := flag.NewFlagSet("ontology_update", flag.ContinueOnError)
	fs.StringVar(&mode, "stage", "", "what to run: all, stage or load (default ONTOLOGY_UPDATE_MODE or all)")
	fs.Var(&current, "current", "current snapshot, path or gs:// URI, optionally prefixed format= (repeatable)")
	fs.Var(&previous, "previous", "previous snapshot, path or gs:// URI, optionally prefixed format= (repeatable)")
	fs.StringVar(&stagingDir, "staging-dir", "", "staging directory (default STAGING_DIR)")
	fs.IntVar(&batchSize, "batch-size", 0, "rows per graph transaction (default LOAD_BATCH_SIZE or 500)")
	fs.StringVar(&formats, "formats", "", "comma separated formats (default SUPPORTED_FORMATS or ReadV2)")
	fs.IntVar(&history, "history", 0, "print the N most recent runs from run history and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := app.ConfigFromEnv()
	if err != nil {
		fmt.Printf("config: %v\n", err)
		return 2
	}
	if err := applyFlags(&cfg, mode, current, previous, stagingDir, batchSize, formats); err != nil {
		fmt.Printf("flags: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if history > 0 {
		return printHistory(ctx, cfg, history)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Printf("init app: %v\n", err)
		var cfgErr *app.ConfigError
		if errors.As(err, &cfgErr) {
			return 2
		}
		return 1
	}
	defer application.Close()

	var (
		acquire func(context.Context) (lease, error)
		ttl     time.Duration
	)
	if lock := application.Clients.LoadLock; lock != nil && cfg.Mode.Loads() {
		acquire = func(ctx context.Context) (lease, error) {
			l, err := lock.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return l, nil
		}
		ttl = lock.TTL()
	}
	return execute(ctx, application.Log, acquire, ttl, application.Execute)
}

// execute runs the pipeline, under the load lock when acquire is set, and
// prints the outcome.
func execute(ctx context.Context, log *logger.Logger, acquire func(context.Context) (lease, error), ttl time.Duration, exec func(context.Context) (app.RunResult, error)) int {
	if acquire != nil {
		var (
			release func()
			err     error
		)
		ctx, release, err = holdLock(ctx, log, acquire, ttl)
		if err != nil {
			fmt.Printf("load lock: %v\n", err)
			if errors.Is(err, pkgerrors.ErrLocked) {
				fmt.Println("another load is running; try again once it finishes")
			}
			return 1
		}
		defer release()
	}

	res, err := exec(ctx)
	if res.RunID != uuid.Nil {
		fmt.Printf("run_id=%s\n", res.RunID.String())
	}
	if res.Manifest != nil {
		summary, _ := json.MarshalIndent(res.Summary, "", "  ")
		fmt.Printf("staged %d rows in %s\n%s\n", res.Summary.Total(), res.Manifest.Dir, summary)
	}
	if res.Load != nil {
		for _, t := range res.Load.Tables {
			fmt.Printf("%-22s rows=%d batches=%d\n", t.Table.String(), t.Rows, t.Batches)
		}
	}
	if err != nil {
		fmt.Printf("ontology update failed: %v\n", err)
		return 1
	}
	fmt.Printf("done; mode=%s\n", res.Mode)
	return 0
}

func applyFlags(cfg *app.Config, mode string, current, previous sourceList, stagingDir string, batchSize int, formats string) error {
	if mode != "" {
		cfg.Mode = app.Mode(strings.ToLower(strings.TrimSpace(mode)))
	}
	if stagingDir != "" {
		cfg.StagingDir = stagingDir
	}
	if batchSize != 0 {
		cfg.BatchSize = batchSize
	}
	if formats != "" {
		parsed, err := model.ParseFormats(strings.Split(formats, ","))
		if err != nil {
			return err
		}
		cfg.Formats = parsed
		cfg.Sources = app.SourcesFromEnv(parsed)
	}
	if err := overrideSources(cfg, current, func(s *app.SnapshotSource, v string) { s.Current = v }); err != nil {
		return err
	}
	return overrideSources(cfg, previous, func(s *app.SnapshotSource, v string) { s.Previous = v })
}

func overrideSources(cfg *app.Config, values sourceList, set func(*app.SnapshotSource, string)) error {
	for _, v := range values {
		idx := 0
		if name, path, ok := strings.Cut(v, "="); ok && !strings.Contains(name, "/") {
			f, err := model.ParseFormat(name)
			if err != nil {
				return err
			}
			idx = -1
			for i, s := range cfg.Sources {
				if s.Format == f {
					idx = i
				}
			}
			if idx < 0 {
				return fmt.Errorf("%s is not in the configured formats", f)
			}
			v = path
		}
		if len(cfg.Sources) == 0 {
			return fmt.Errorf("no formats configured")
		}
		set(&cfg.Sources[idx], v)
	}
	return nil
}

type lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// holdLock takes the load lock and keeps it alive until release is called.
// Losing the lease cancels the returned context.
func holdLock(ctx context.Context, log *logger.Logger, acquire func(context.Context) (lease, error), ttl time.Duration) (context.Context, func(), error) {
	held, err := acquire(ctx)
	if err != nil {
		return ctx, nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := held.Refresh(ctx); err != nil {
					log.Error("load lock lost; stopping", "error", err)
					cancel()
					return
				}
			}
		}
	}()
	release := func() {
		close(done)
		if err := held.Release(context.Background()); err != nil {
			log.Warn("load lock release failed", "error", err)
		}
		cancel()
	}
	return ctx, release, nil
}

// printHistory only needs the run history database, not the graph.
func printHistory(ctx context.Context, cfg app.Config, limit int) int {
	if cfg.RunHistoryDSN == "" {
		fmt.Println("run history unavailable (RUN_HISTORY_DSN missing)")
		return 1
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("init logger: %v\n", err)
		return 1
	}
	defer log.Sync()
	rh, err := db.NewRunHistoryService(cfg.RunHistoryDSN, log)
	if err != nil {
		fmt.Printf("init run history: %v\n", err)
		return 1
	}
	defer rh.Close()

	runs, err := ontologyrepos.NewLoadRunRepo(rh.DB(), log).List(dbctx.Context{Ctx: ctx}, limit)
	if err != nil {
		fmt.Printf("list runs: %v\n", err)
		return 1
	}
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Format(time.RFC3339)
		}
		fmt.Printf("%s  %-9s %-5s stage=%-5s rows=%d started=%s finished=%s %s\n",
			r.ID.String(), r.Status, r.Mode, r.Stage, r.RowsLoaded,
			r.StartedAt.Format(time.RFC3339), finished, r.ErrorCode)
	}
	return 0
}
