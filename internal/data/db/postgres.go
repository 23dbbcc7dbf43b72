package db

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DriverForDSN picks postgres for URL or key=value DSNs and sqlite for
// everything else. A "sqlite:" prefix is accepted and stripped.
func DriverForDSN(dsn string) (Driver, string) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn
	case strings.Contains(dsn, "host=") && strings.Contains(dsn, "dbname="):
		return DriverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite:"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite:")
	default:
		return DriverSQLite, dsn
	}
}

type RunHistoryService struct {
	db     *gorm.DB
	driver Driver
	log    *logger.Logger
}

// NewRunHistoryService opens the run history database named by dsn and
// migrates it.
func NewRunHistoryService(dsn string, logg *logger.Logger) (*RunHistoryService, error) {
	if logg == nil {
		return nil, fmt.Errorf("run history: logger required")
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("run history: dsn required")
	}
	serviceLog := logg.With("service", "RunHistoryService")

	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             1 * time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	}

	driver, conn := DriverForDSN(dsn)
	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(conn), cfg)
	default:
		db, err = gorm.Open(sqlite.Open(conn), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if err := AutoMigrateAll(db); err != nil {
		return nil, fmt.Errorf("run history automigrate: %w", err)
	}
	serviceLog.Info("run history ready", "driver", string(driver))
	return &RunHistoryService{db: db, driver: driver, log: serviceLog}, nil
}

func (s *RunHistoryService) DB() *gorm.DB { return s.db }

func (s *RunHistoryService) Driver() Driver { return s.driver }

func (s *RunHistoryService) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
