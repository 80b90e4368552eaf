package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/finsight/internal/model"
)

// MemoryUserRepo はプロセス内メモリにユーザーを保持するリポジトリ。
// メールアドレスを主キーとし、IDによる検索は全件走査で行う。
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byEmail map[string]*model.User
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{byEmail: make(map[string]*model.User)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.byEmail {
		if u.ID == id {
			return u.Clone(), nil
		}
	}
	return nil, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.byEmail[email].Clone(), nil
}

// Save はユーザーを保存する。同じメールアドレスのレコードは置き換える。
func (r *MemoryUserRepo) Save(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byEmail[user.Email] = user.Clone()
	return nil
}

// CreateIfAbsent はメールアドレスが未登録の場合のみユーザーを保存する。
func (r *MemoryUserRepo) CreateIfAbsent(_ context.Context, user *model.User) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byEmail[user.Email]; ok {
		if user.UpdatedAt.After(existing.UpdatedAt) {
			existing.UpdatedAt = user.UpdatedAt
		}
		return existing.Clone(), nil
	}
	r.byEmail[user.Email] = user.Clone()
	return user.Clone(), nil
}

// Count は保持しているユーザー数を返す。
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEmail)
}

// compile-time interface check
var _ UserRepository = (*MemoryUserRepo)(nil)
