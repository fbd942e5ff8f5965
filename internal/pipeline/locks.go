package pipeline

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// vaultLocks serializes pipeline runs per vault within this process. Two
// concurrent runs against one vault would both size their withdraws off a
// stale balance read; the second caller fails fast instead of queueing.
type vaultLocks struct {
	mu   sync.Mutex
	held map[common.Address]struct{}
}

func newVaultLocks() *vaultLocks {
	return &vaultLocks{held: make(map[common.Address]struct{})}
}

func (l *vaultLocks) acquire(vault common.Address) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[vault]; busy {
		return false
	}
	l.held[vault] = struct{}{}
	return true
}

func (l *vaultLocks) release(vault common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, vault)
}
