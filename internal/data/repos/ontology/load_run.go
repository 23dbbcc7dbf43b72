package ontology

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/conceptgraph/internal/domain"
	"github.com/yungbote/conceptgraph/internal/pkg/dbctx"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

type LoadRunRepo interface {
	Create(dbc dbctx.Context, run *types.LoadRun) (*types.LoadRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LoadRun, error)
	GetLatest(dbc dbctx.Context, status string) (*types.LoadRun, error)
	List(dbc dbctx.Context, limit int) ([]*types.LoadRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	Finish(dbc dbctx.Context, id uuid.UUID, status string, updates map[string]interface{}) error
}

type loadRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLoadRunRepo(db *gorm.DB, baseLog *logger.Logger) LoadRunRepo {
	return &loadRunRepo{
		db:  db,
		log: baseLog.With("repo", "LoadRunRepo"),
	}
}

func (r *loadRunRepo) tx(dbc dbctx.Context) *gorm.DB {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx)
}

func (r *loadRunRepo) Create(dbc dbctx.Context, run *types.LoadRun) (*types.LoadRun, error) {
	if run == nil {
		return nil, nil
	}
	if run.Status == "" {
		run.Status = types.LoadRunStatusRunning
	}
	if err := r.tx(dbc).Create(run).Error; err != nil {
		return nil, err
	}
	return run, nil
}

func (r *loadRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.LoadRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var run types.LoadRun
	if err := r.tx(dbc).Where("id = ?", id).Limit(1).Find(&run).Error; err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

// GetLatest returns the most recently started run, optionally filtered by status.
func (r *loadRunRepo) GetLatest(dbc dbctx.Context, status string) (*types.LoadRun, error) {
	q := r.tx(dbc).Order("started_at DESC").Limit(1)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var run types.LoadRun
	if err := q.Find(&run).Error; err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *loadRunRepo) List(dbc dbctx.Context, limit int) ([]*types.LoadRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*types.LoadRun
	if err := r.tx(dbc).Order("started_at DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *loadRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.tx(dbc).
		Model(&types.LoadRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *loadRunRepo) Finish(dbc dbctx.Context, id uuid.UUID, status string, updates map[string]interface{}) error {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	now := time.Now().UTC()
	updates["status"] = status
	updates["finished_at"] = now
	updates["updated_at"] = now
	if err := r.UpdateFields(dbc, id, updates); err != nil {
		return err
	}
	r.log.Debug("load run finished", "run_id", id, "status", status)
	return nil
}
