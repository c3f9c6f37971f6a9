package keystore

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsTable = "adbbridge_schema_migrations"

var (
	ErrDriverCreation  = errors.New("failed to create postgres driver")
	ErrSourceCreation  = errors.New("failed to create source driver")
	ErrMigrationFailed = errors.New("failed to run migrations")
)

// PostgresStore 将密钥保存在PostgreSQL的adb_keys表中
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres 连接数据库并执行迁移
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	s, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore 在已有连接上创建存储，会先应用嵌入的迁移
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDriverCreation, err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceCreation, err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: %w", ErrMigrationFailed, err)
	}
	return nil
}

func (s *PostgresStore) Get(name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM adb_keys WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *PostgresStore) Set(name string, value []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT INTO adb_keys (name, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, name, value)
	return err
}

func (s *PostgresStore) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM adb_keys WHERE name = $1`, name)
	return err
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
