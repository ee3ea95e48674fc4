package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDirtySchema は前回のマイグレーションが途中で失敗し、手動での修復が必要な状態を表す。
var ErrDirtySchema = errors.New("database schema is dirty")

// MigrationStatus はマイグレーション実行前後のスキーマバージョン。
// バージョン0は未適用を表す。
type MigrationStatus struct {
	From uint
	To   uint
}

// Changed はスキーマが変更されたかを返す。
func (s MigrationStatus) Changed() bool {
	return s.From != s.To
}

// Migrator は埋め込みSQLを使ってPostgreSQLのスキーマを管理する。
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator は埋め込みマイグレーションを読み込んだMigratorを生成する。
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Close はソースとDB接続を閉じる。
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Version は適用済みのバージョンとdirtyフラグを返す。
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// Up は未適用のマイグレーションをすべて適用する。既に最新なら何もしない。
func (mg *Migrator) Up() (MigrationStatus, error) {
	return mg.apply(func(uint) error { return mg.m.Up() })
}

// Down は直近のマイグレーションをsteps件だけ取り消す。
// 適用済みの件数を超える指定は、すべて取り消すものとして扱う。
func (mg *Migrator) Down(steps int) (MigrationStatus, error) {
	if steps <= 0 {
		return MigrationStatus{}, fmt.Errorf("rollback steps must be positive: %d", steps)
	}
	return mg.apply(func(from uint) error {
		if uint(steps) >= from {
			return mg.m.Down()
		}
		return mg.m.Steps(-steps)
	})
}

func (mg *Migrator) apply(run func(from uint) error) (MigrationStatus, error) {
	from, dirty, err := mg.Version()
	if err != nil {
		return MigrationStatus{}, err
	}
	if dirty {
		return MigrationStatus{From: from, To: from}, fmt.Errorf("%w at version %d", ErrDirtySchema, from)
	}

	if err := run(from); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return MigrationStatus{From: from, To: from}, fmt.Errorf("failed to run migrations: %w", err)
	}

	to, _, err := mg.Version()
	if err != nil {
		return MigrationStatus{From: from, To: from}, err
	}
	return MigrationStatus{From: from, To: to}, nil
}

// RunMigrations はdatabaseURLのスキーマを最新にする。
func RunMigrations(databaseURL string) (MigrationStatus, error) {
	mg, err := NewMigrator(databaseURL)
	if err != nil {
		return MigrationStatus{}, err
	}
	defer mg.Close()

	return mg.Up()
}
