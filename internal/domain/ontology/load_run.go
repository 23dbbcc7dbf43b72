package ontology

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	LoadRunStatusRunning   = "running"
	LoadRunStatusSucceeded = "succeeded"
	LoadRunStatusFailed    = "failed"
)

const (
	LoadRunStageParse = "parse"
	LoadRunStageDiff  = "diff"
	LoadRunStageStage = "stage"
	LoadRunStageLoad  = "load"
	LoadRunStageDone  = "done"
)

// LoadRun records one pipeline invocation: which snapshots were diffed, how
// many rows each staging table held and how far the run got.
type LoadRun struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Mode           string         `gorm:"column:mode;not null" json:"mode"`
	Formats        string         `gorm:"column:formats;not null" json:"formats"`
	CurrentSource  string         `gorm:"column:current_source" json:"current_source,omitempty"`
	PreviousSource string         `gorm:"column:previous_source" json:"previous_source,omitempty"`
	StagingDir     string         `gorm:"column:staging_dir;not null" json:"staging_dir"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	Stage          string         `gorm:"column:stage;not null" json:"stage"`
	Counts         datatypes.JSON `gorm:"column:counts" json:"counts,omitempty"`
	RowsLoaded     int            `gorm:"column:rows_loaded;not null;default:0" json:"rows_loaded"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	ErrorCode      string         `gorm:"column:error_code" json:"error_code,omitempty"`
	StartedAt      time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt     *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

func (LoadRun) TableName() string { return "ontology_load_run" }

func (r *LoadRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	return nil
}
