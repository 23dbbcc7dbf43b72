package app

import (
	"fmt"

	"github.com/yungbote/conceptgraph/internal/data/graph"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
	"github.com/yungbote/conceptgraph/internal/services"
)

type RunResult = services.RunResult

type Services struct {
	Loader         *graph.OntologyLoader
	OntologyUpdate services.OntologyUpdateService
}

func wireServices(log *logger.Logger, cfg Config, c Clients, r Repos) (Services, error) {
	log.Info("Wiring services...")
	var out Services

	var loader services.GraphLoader
	if c.Neo4j != nil {
		l, err := graph.NewOntologyLoader(c.Neo4j, log, graph.OntologyLoaderOptions{
			BatchSize: cfg.BatchSize,
			Formats:   cfg.Formats,
		})
		if err != nil {
			return Services{}, fmt.Errorf("init ontology loader: %w", err)
		}
		out.Loader = l
		loader = l
	}

	var objects services.ObjectOpener
	if c.Objects != nil {
		objects = c.Objects
	}
	out.OntologyUpdate = services.NewOntologyUpdateService(
		log,
		services.NewSnapshotOpener(objects),
		loader,
		r.LoadRun,
		services.OntologyUpdateOptions{
			StagingDir:       cfg.StagingDir,
			ReadV2FieldCount: cfg.ReadV2FieldCount,
		},
	)
	return out, nil
}
