package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtrntr/swappool/internal/models"
	"github.com/xtrntr/swappool/internal/pool"
)

// MemoryAccounts is an in-process AccountStore for running without a
// database
type MemoryAccounts struct {
	mu       sync.Mutex
	accounts map[string]*models.Account
}

// NewMemoryAccounts creates an empty MemoryAccounts
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{accounts: make(map[string]*models.Account)}
}

func (m *MemoryAccounts) CreateAccount(_ context.Context, identity, passwordHash string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[identity]; ok {
		return nil, fmt.Errorf("account %q: %w", identity, pool.ErrDuplicateKey)
	}
	a := &models.Account{ID: len(m.accounts) + 1, Identity: identity, PasswordHash: passwordHash, CreatedAt: time.Now()}
	m.accounts[identity] = a
	return a, nil
}

func (m *MemoryAccounts) GetAccount(_ context.Context, identity string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[identity]
	if !ok {
		return nil, fmt.Errorf("account %q: %w", identity, pool.ErrNotFound)
	}
	c := *a
	return &c, nil
}
