// Package store persists upload tracking state and committed transactions
// behind a single GORM-backed Store. SQLite serves single-node deployments
// and tests; PostgreSQL serves multi-node deployments where several workers
// share one database.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cnabflow/cnabflow/internal/logger"
	"github.com/cnabflow/cnabflow/pkg/models"
)

// DatabaseType identifies the backing database engine.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	// Path to the database file. Empty means the default location under
	// the user config directory.
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"     yaml:"host"`
	Port     int    `mapstructure:"port"     yaml:"port"`
	User     string `mapstructure:"user"     yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
	SSLMode  string `mapstructure:"ssl_mode" yaml:"ssl_mode"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"    yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"    yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN builds the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Config selects and configures the database engine.
type Config struct {
	Type     DatabaseType   `mapstructure:"type"     yaml:"type"     validate:"required,oneof=sqlite postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"   yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}

	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		// Use XDG config home or fallback
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "cnabflow", "cnabflow.db")
	}

	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Host == "" {
			c.Postgres.Host = "localhost"
		}
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 25
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 5
		}
		if c.Postgres.ConnMaxLifetime == 0 {
			c.Postgres.ConnMaxLifetime = 30 * time.Minute
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("postgres user is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Type)
	}
	return nil
}

// Store wraps a GORM database handle and exposes the upload-tracking and
// transaction operations used by the ingestion pipeline.
type Store struct {
	db     *gorm.DB
	dbType DatabaseType
}

// New opens the configured database, runs migrations and returns a ready
// Store. For SQLite the parent directory is created and WAL mode enabled so
// concurrent workers do not serialize on the file lock.
func New(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case DatabaseTypeSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		// SQLite pragmas for better concurrent access:
		// - journal_mode(WAL): concurrent readers with a single writer
		// - busy_timeout(5000): wait up to 5 seconds when the database is locked
		dsn := cfg.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		dialector = sqlite.Open(dsn)

	case DatabaseTypePostgres:
		dialector = postgres.Open(cfg.Postgres.DSN())
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}

	if cfg.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access underlying connection pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Postgres.ConnMaxLifetime)
		logger.Debug("Connected to PostgreSQL",
			"host", cfg.Postgres.Host, "port", cfg.Postgres.Port, "database", cfg.Postgres.Database)
	} else {
		logger.Debug("Opened SQLite database", "path", cfg.SQLite.Path)
	}

	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	return &Store{db: db, dbType: cfg.Type}, nil
}

// NewWithDB wraps an already-open GORM handle. Used by tests.
func NewWithDB(db *gorm.DB, dbType DatabaseType) (*Store, error) {
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return &Store{db: db, dbType: dbType}, nil
}

// DB exposes the underlying GORM handle for migrations and diagnostics.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Type reports the backing database engine.
func (s *Store) Type() DatabaseType {
	return s.dbType
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck verifies the database connection is alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// isUniqueConstraintError reports whether err is a unique constraint
// violation on either backend.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || // SQLite
		strings.Contains(msg, "duplicate key value violates unique constraint") // PostgreSQL
}

// convertNotFoundError maps gorm.ErrRecordNotFound to a domain error.
func convertNotFoundError(err, notFoundErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFoundErr
	}
	return err
}
