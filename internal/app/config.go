package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yungbote/conceptgraph/internal/data/graph"
	"github.com/yungbote/conceptgraph/internal/observability"
	"github.com/yungbote/conceptgraph/internal/ontology/model"
	"github.com/yungbote/conceptgraph/internal/ontology/parser"
	"github.com/yungbote/conceptgraph/internal/platform/envutil"
	"github.com/yungbote/conceptgraph/internal/platform/neo4jdb"
	"github.com/yungbote/conceptgraph/internal/services"
)

type Mode string

const (
	ModeAll   Mode = "all"
	ModeStage Mode = "stage"
	ModeLoad  Mode = "load"
)

func (m Mode) Stages() bool { return m == ModeAll || m == ModeStage }
func (m Mode) Loads() bool  { return m == ModeAll || m == ModeLoad }

const DefaultStagingDir = "./data/staging"

type SnapshotSource = services.SnapshotSource

type Config struct {
	Mode             Mode
	LogMode          string
	StagingDir       string
	Formats          []model.Format
	Sources          []SnapshotSource
	BatchSize        int
	ReadV2FieldCount int
	Neo4j            neo4jdb.Config
	RunHistoryDSN    string
	Otel             observability.OtelConfig
}

type ConfigErrorCode string

const (
	ConfigErrorInvalidMode       ConfigErrorCode = "invalid_mode"
	ConfigErrorMissingSnapshot   ConfigErrorCode = "missing_snapshot"
	ConfigErrorInvalidBatchSize  ConfigErrorCode = "invalid_batch_size"
	ConfigErrorInvalidFormat     ConfigErrorCode = "invalid_format"
	ConfigErrorMissingStagingDir ConfigErrorCode = "missing_staging_dir"
	ConfigErrorMissingNeo4jURI   ConfigErrorCode = "missing_neo4j_uri"
	ConfigErrorInvalidFieldCount ConfigErrorCode = "invalid_field_count"
)

type ConfigError struct {
	Code  ConfigErrorCode
	Value string
	Cause error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "invalid config"
	}
	switch e.Code {
	case ConfigErrorInvalidMode:
		return fmt.Sprintf("invalid mode %q; expected all, stage or load", e.Value)
	case ConfigErrorMissingSnapshot:
		return fmt.Sprintf("%s is required to stage a delta", e.Value)
	case ConfigErrorInvalidBatchSize:
		return fmt.Sprintf("invalid LOAD_BATCH_SIZE=%q; expected positive integer", e.Value)
	case ConfigErrorInvalidFormat:
		return fmt.Sprintf("invalid SUPPORTED_FORMATS entry %q; expected ReadV2, CTV3 or SNOMED_CT", e.Value)
	case ConfigErrorMissingStagingDir:
		return "STAGING_DIR is required"
	case ConfigErrorMissingNeo4jURI:
		return "NEO4J_URI is required to load the graph"
	case ConfigErrorInvalidFieldCount:
		return fmt.Sprintf("invalid READV2_FIELD_COUNT=%q; expected positive integer", e.Value)
	default:
		return "invalid config"
	}
}

func (e *ConfigError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// SourceEnv returns the env var prefix for a format's snapshots, e.g.
// READV2 for READV2_CURRENT and READV2_PREVIOUS.
func SourceEnv(f model.Format) string {
	return strings.ToUpper(string(f))
}

// ConfigFromEnv reads the pipeline configuration. It only parses; call
// ValidateConfig before use.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		Mode:             Mode(strings.ToLower(envutil.String("ONTOLOGY_UPDATE_MODE", string(ModeAll)))),
		LogMode:          envutil.String("LOG_MODE", "development"),
		StagingDir:       envutil.String("STAGING_DIR", DefaultStagingDir),
		BatchSize:        graph.DefaultBatchSize,
		ReadV2FieldCount: parser.ReadV2FieldCount,
		Neo4j:            neo4jdb.ConfigFromEnv(),
		RunHistoryDSN:    envutil.String("RUN_HISTORY_DSN", ""),
		Otel: observability.OtelConfig{
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "conceptgraph"),
			Environment: envutil.String("APP_ENV", ""),
			Version:     envutil.String("APP_VERSION", ""),
		},
	}

	if raw := envutil.String("LOAD_BATCH_SIZE", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigError{Code: ConfigErrorInvalidBatchSize, Value: raw, Cause: err}
		}
		cfg.BatchSize = n
	}
	if raw := envutil.String("READV2_FIELD_COUNT", ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, &ConfigError{Code: ConfigErrorInvalidFieldCount, Value: raw, Cause: err}
		}
		cfg.ReadV2FieldCount = n
	}

	formats, err := parseFormats(envutil.List("SUPPORTED_FORMATS", []string{string(model.FormatReadV2)}))
	if err != nil {
		return Config{}, err
	}
	cfg.Formats = formats
	cfg.Sources = SourcesFromEnv(formats)
	return cfg, nil
}

// SourcesFromEnv reads <FORMAT>_CURRENT and <FORMAT>_PREVIOUS per format.
func SourcesFromEnv(formats []model.Format) []SnapshotSource {
	out := make([]SnapshotSource, 0, len(formats))
	for _, f := range formats {
		prefix := SourceEnv(f)
		out = append(out, SnapshotSource{
			Format:   f,
			Current:  envutil.String(prefix+"_CURRENT", ""),
			Previous: envutil.String(prefix+"_PREVIOUS", ""),
		})
	}
	return out
}

func parseFormats(raw []string) ([]model.Format, error) {
	formats, err := model.ParseFormats(raw)
	if err != nil {
		return nil, &ConfigError{Code: ConfigErrorInvalidFormat, Value: strings.Join(raw, ","), Cause: err}
	}
	return formats, nil
}

func ValidateConfig(cfg Config) error {
	switch cfg.Mode {
	case ModeAll, ModeStage, ModeLoad:
	default:
		return &ConfigError{Code: ConfigErrorInvalidMode, Value: string(cfg.Mode)}
	}
	if strings.TrimSpace(cfg.StagingDir) == "" {
		return &ConfigError{Code: ConfigErrorMissingStagingDir}
	}
	if cfg.BatchSize <= 0 {
		return &ConfigError{Code: ConfigErrorInvalidBatchSize, Value: strconv.Itoa(cfg.BatchSize)}
	}
	if cfg.ReadV2FieldCount < parser.MinReadV2FieldCount {
		return &ConfigError{Code: ConfigErrorInvalidFieldCount, Value: strconv.Itoa(cfg.ReadV2FieldCount)}
	}
	if len(cfg.Formats) == 0 {
		return &ConfigError{Code: ConfigErrorInvalidFormat}
	}
	if cfg.Mode.Stages() {
		bySource := map[model.Format]SnapshotSource{}
		for _, s := range cfg.Sources {
			bySource[s.Format] = s
		}
		for _, f := range cfg.Formats {
			if strings.TrimSpace(bySource[f].Current) == "" {
				return &ConfigError{Code: ConfigErrorMissingSnapshot, Value: SourceEnv(f) + "_CURRENT"}
			}
		}
	}
	if cfg.Mode.Loads() && strings.TrimSpace(cfg.Neo4j.URI) == "" {
		return &ConfigError{Code: ConfigErrorMissingNeo4jURI}
	}
	return nil
}
