// Package cheat holds the impersonation registry and the node-level
// developer toggles the anvil_* cheat RPCs flip.
package cheat

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/log"

	"github.com/shuttlelabs/shuttle/types"
)

// Controller tracks which senders bypass signature verification.
type Controller struct {
	mu              sync.RWMutex
	impersonated    mapset.Set[types.Address]
	autoImpersonate bool
	loggingEnabled  bool

	logger log.Logger
}

func NewController() *Controller {
	return &Controller{
		impersonated:   mapset.NewThreadUnsafeSet[types.Address](),
		loggingEnabled: true,
		logger:         log.New("component", "cheat"),
	}
}

// Impersonate adds addr to the impersonation set; transactions from it
// are accepted with the bypass sentinel signature.
func (c *Controller) Impersonate(addr types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impersonated.Add(addr)
	c.logger.Info("impersonating account", "addr", addr)
}

// StopImpersonating removes addr from the set.
func (c *Controller) StopImpersonating(addr types.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.impersonated.Remove(addr)
}

// SetAutoImpersonate treats every sender as impersonated while enabled.
func (c *Controller) SetAutoImpersonate(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoImpersonate = enabled
}

// IsImpersonated reports whether transactions from addr skip signature
// verification.
func (c *Controller) IsImpersonated(addr types.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.autoImpersonate || c.impersonated.Contains(addr)
}

// SetLoggingEnabled records the logging flag (anvil_setLoggingEnabled)
// that LoggingEnabled reports; the node's log output does not read it.
func (c *Controller) SetLoggingEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggingEnabled = enabled
}

func (c *Controller) LoggingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggingEnabled
}
