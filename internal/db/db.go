// Package db opens the MoltGrid store and brings its schema up to date. The
// default driver is SQLite through the modernc pure-Go driver (no CGO), with
// PostgreSQL selectable for multi-node deployments. Schema migrations are
// embedded in the binary and applied on every start; a schema that is already
// current is a no-op.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver, no CGO required.
	// Registers itself as "sqlite" in database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool sizing for the postgres path. SQLite is instead pinned to a single
// open connection, because the file takes only one writer.
const (
	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 30 * time.Minute
)

// Config selects and configures the backing store. An empty Driver means
// sqlite.
type Config struct {
	Driver   string // "sqlite" or "postgres"
	DSN      string
	Logger   *zap.Logger
	LogLevel gormlogger.LogLevel
}

// New opens the store, applies pending migrations, and returns the ready
// *gorm.DB.
func New(cfg Config) (*gorm.DB, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("db: logger is required")
	}

	gormCfg := &gorm.Config{
		Logger: newZapGORMLogger(cfg.Logger, cfg.LogLevel),
	}

	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var (
		database *gorm.DB
		sqlDB    *sql.DB
		err      error
	)
	switch driver {
	case "sqlite":
		database, sqlDB, err = openSQLite(cfg.DSN, gormCfg)
	case "postgres":
		database, sqlDB, err = openPostgres(cfg.DSN, gormCfg)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q, use \"sqlite\" or \"postgres\"", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := migrateUp(sqlDB, driver); err != nil {
		return nil, fmt.Errorf("db: migrations failed: %w", err)
	}
	cfg.Logger.Info("database ready", zap.String("driver", driver))

	return database, nil
}

// openSQLite opens the DSN through the modernc driver and hands the live
// *sql.DB to the GORM dialector, so GORM never opens a second connection
// through go-sqlite3. The pool is capped at one connection: SQLite takes a
// single writer, and funneling readers through the same handle keeps busy
// errors rare.
func openSQLite(dsn string, gormCfg *gorm.Config) (*gorm.DB, *sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, nil, fmt.Errorf("db: failed to open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	database, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("db: failed to initialize gorm with sqlite: %w", err)
	}
	return database, sqlDB, nil
}

func openPostgres(dsn string, gormCfg *gorm.Config) (*gorm.DB, *sql.DB, error) {
	database, err := gorm.Open(gormpostgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("db: failed to open postgres: %w", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("db: failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(pgMaxOpenConns)
	sqlDB.SetMaxIdleConns(pgMaxIdleConns)
	sqlDB.SetConnMaxLifetime(pgConnMaxLifetime)
	return database, sqlDB, nil
}

// sqliteDSN appends the pragmas every connection needs (busy timeout so
// concurrent readers wait out the single writer, foreign key enforcement)
// unless the caller already configured pragmas explicitly.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Ping reports whether the store connection is still alive. The health
// endpoint calls it on every probe.
func Ping(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("db: failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// migrateUp applies every pending up-migration from the embedded SQL files.
// ErrNoChange means the schema is already current and is treated as success.
func migrateUp(sqlDB *sql.DB, driver string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	var drv migratedb.Driver
	switch driver {
	case "sqlite":
		drv, err = migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	case "postgres":
		drv, err = migratepg.WithInstance(sqlDB, &migratepg.Config{})
	default:
		return fmt.Errorf("no migration driver for %q", driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migrate driver: %w", driver, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
