package spray

import (
	"fmt"
	"log"
	"os"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vectorlink/irs-backend/internal/config"
	"github.com/vectorlink/irs-backend/internal/db"
	"github.com/vectorlink/irs-backend/internal/forms"
)

// Migrate prepares the spray schema on the given handle: schema, extensions,
// tables, and the constraint-backed invariants the engine relies on. The
// spray_points index is what makes dedup reconciliation atomic.
func Migrate(gdb *gorm.DB) error {
	if err := db.EnsureSchema(gdb, "spray"); err != nil {
		return fmt.Errorf("ensure schema spray: %w", err)
	}
	if err := db.EnsurePostGIS(gdb); err != nil {
		return fmt.Errorf("enable postgis extension: %w", err)
	}
	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
		return fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	if err := gdb.AutoMigrate(
		&Location{},
		&Household{},
		&SprayDay{},
		&SprayPoint{},
		&PerformanceReport{},
	); err != nil {
		return fmt.Errorf("auto-migrate spray tables: %w", err)
	}

	ddl := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS spray_points_dedup_key
		 ON spray.spray_points (data_id, location_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS performance_reports_operator_form
		 ON spray.performance_reports (operator_code, spray_form_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS locations_code_level_parent
		 ON spray.locations (code, level, COALESCE(parent_id, '00000000-0000-0000-0000-000000000000'::uuid))`,
		`CREATE INDEX IF NOT EXISTS locations_geom_gist
		 ON spray.locations USING GIST (geom)`,
		`CREATE INDEX IF NOT EXISTS households_geom_gist
		 ON spray.households USING GIST (geom)`,
		`CREATE INDEX IF NOT EXISTS spray_days_geom_gist
		 ON spray.spray_days USING GIST (geom)`,
	}
	for _, stmt := range ddl {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Init migrates the spray schema and wires the engine. Missing required
// configuration aborts; everything past startup degrades instead of dying.
func Init(cfg config.Deployment, logger *zap.Logger) *Handlers {
	if err := Migrate(db.DB); err != nil {
		log.Fatal("Failed to migrate spray schema: ", err)
	}

	engine := NewEngine(cfg, logger)
	return &Handlers{
		pipeline:   engine.Pipeline,
		aggregator: engine.Aggregator,
		locations:  engine.Store,
		days:       engine.Store,
		reports:    engine.Store,
		secret:     os.Getenv("WEBHOOK_SECRET"),
		log:        logger,
	}
}

// Engine exposes the wired pipeline and aggregator for the CLIs.
type Engine struct {
	Pipeline   *Pipeline
	Aggregator *Aggregator
	Reporter   *Reporter
	Store      *Store
}

// NewEngine wires the engine against an existing gorm handle without the
// HTTP surface. The CLIs use it after db.Connect().
func NewEngine(cfg config.Deployment, logger *zap.Logger) *Engine {
	store := NewStore(db.DB)

	var cache *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cache = redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("REDIS_PASSWORD")})
	}
	formsClient := forms.NewClient(os.Getenv("FORMS_BASE_URL"), os.Getenv("FORMS_API_TOKEN"), cache, logger)

	matcher := NewMatcher(cfg, store, store, formsClient, logger)
	dedup := NewDedup(store)
	aggregator := NewAggregator(cfg, store, store, logger)
	reporter := NewReporter(cfg, store, store, formsClient, logger)
	pipeline := NewPipeline(cfg, store, store, matcher, dedup, aggregator, reporter, logger)

	return &Engine{
		Pipeline:   pipeline,
		Aggregator: aggregator,
		Reporter:   reporter,
		Store:      store,
	}
}
