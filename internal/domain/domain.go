package domain

import (
	"github.com/yungbote/conceptgraph/internal/domain/ontology"
)

const (
	LoadRunStatusRunning   = ontology.LoadRunStatusRunning
	LoadRunStatusSucceeded = ontology.LoadRunStatusSucceeded
	LoadRunStatusFailed    = ontology.LoadRunStatusFailed

	LoadRunStageParse = ontology.LoadRunStageParse
	LoadRunStageDiff  = ontology.LoadRunStageDiff
	LoadRunStageStage = ontology.LoadRunStageStage
	LoadRunStageLoad  = ontology.LoadRunStageLoad
	LoadRunStageDone  = ontology.LoadRunStageDone
)

type LoadRun = ontology.LoadRun

// Models lists every persisted type, for migrations.
func Models() []interface{} {
	return []interface{}{
		&LoadRun{},
	}
}
