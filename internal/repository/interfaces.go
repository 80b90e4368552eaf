// Package repository はデータ永続化のインターフェースと実装を定義する。
// DATABASE_URL未設定時はメモリ実装、設定時はPostgreSQL実装を使用する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/finsight/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 返却するUserは常にコピーであり、呼び出し側で変更してもストアには反映されない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Save はユーザーを作成または上書き保存する。IDが一致するレコードを更新する。
	Save(ctx context.Context, user *model.User) error

	// CreateIfAbsent はユーザーを作成する。同じメールアドレスのユーザーが既にあれば
	// 作成せず、UpdatedAtのみ進めた既存ユーザーを返す。
	// 複数プロセスから同時に初回ログインした場合もユーザーは1件になる。
	CreateIfAbsent(ctx context.Context, user *model.User) (*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は指定時刻までに期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
