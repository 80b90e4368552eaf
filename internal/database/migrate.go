// Package database はPostgreSQLの接続とスキーマ管理を提供する。
// スキーマはusersとsessionsの2テーブルのみで、SQLファイルはバイナリに埋め込む。
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
var schemaFiles embed.FS

// NewMigrator は埋め込みのSQLファイルをソースとするMigrateを生成する。
// 呼び出し側でCloseすること。
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	src, err := iofs.New(schemaFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("マイグレーションファイルの読み込みに失敗しました: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("マイグレーションの初期化に失敗しました: %w", err)
	}
	return m, nil
}

// RunMigrations は未適用のマイグレーションをすべて適用する。適用済みなら何もしない。
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("マイグレーションの適用に失敗しました: %w", err)
	}
	return nil
}

// SchemaVersion は適用済みのスキーマバージョンを返す。
// 未適用の場合は0を、途中で失敗した状態ならdirty=trueを返す。
func SchemaVersion(databaseURL string) (version uint, dirty bool, err error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("スキーマバージョンの取得に失敗しました: %w", err)
	}
	return version, dirty, nil
}
