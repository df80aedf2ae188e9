package lending

import "sync"

// accountGuard serializes state-changing operations per account. An
// operation marks its account busy for its whole duration. Any call that
// arrives while the flag is set, whether a concurrent caller or a
// reentrant call through an external collaborator, is rejected with
// ErrAccountBusy rather than queued, so a stale collateral or debt
// snapshot can never back a ratio check. Operations on distinct accounts
// proceed in parallel.
type accountGuard struct {
	mu   sync.Mutex
	busy map[string]bool
}

func (g *accountGuard) enter(key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy == nil {
		g.busy = make(map[string]bool)
	}
	if g.busy[key] {
		return ErrAccountBusy
	}
	g.busy[key] = true
	return nil
}

func (g *accountGuard) exit(key string) {
	g.mu.Lock()
	delete(g.busy, key)
	g.mu.Unlock()
}
