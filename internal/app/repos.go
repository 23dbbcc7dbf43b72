package app

import (
	ontologyrepos "github.com/yungbote/conceptgraph/internal/data/repos/ontology"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

type Repos struct {
	// LoadRun is nil when RUN_HISTORY_DSN is unset.
	LoadRun ontologyrepos.LoadRunRepo
}

func wireRepos(c Clients, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	if c.RunHistory == nil {
		return Repos{}
	}
	return Repos{
		LoadRun: ontologyrepos.NewLoadRunRepo(c.RunHistory.DB(), log),
	}
}
