// Package display is the HTTP surface over the labs: JSON snapshots, control
// endpoints, a websocket stream of changes, the product list and metrics.
package display

import (
	"sync"

	"github.com/signalsfoundry/reactive-labs/internal/labs"
	"github.com/signalsfoundry/reactive-labs/internal/scenario"
	"github.com/signalsfoundry/reactive-labs/internal/sched"
)

// Catalog owns one machine per registered lab, built on first use. Every
// machine shares the catalog's scheduler.
type Catalog struct {
	reg   *labs.Registry
	sched *sched.Scheduler
	opts  []scenario.Option

	mu       sync.Mutex
	machines map[string]*scenario.Machine
	closed   bool
}

// NewCatalog returns a catalog over reg. opts apply to every machine.
func NewCatalog(reg *labs.Registry, s *sched.Scheduler, opts ...scenario.Option) *Catalog {
	return &Catalog{
		reg:      reg,
		sched:    s,
		opts:     opts,
		machines: make(map[string]*scenario.Machine),
	}
}

// Names lists every lab, sorted.
func (c *Catalog) Names() []string { return c.reg.Names() }

// Machine returns the machine for name, creating it if needed.
func (c *Catalog) Machine(name string) (*scenario.Machine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, scenario.ErrClosed
	}
	if m, ok := c.machines[name]; ok {
		return m, nil
	}
	def, err := c.reg.New(name)
	if err != nil {
		return nil, err
	}
	m := scenario.NewMachine(def, c.sched, c.opts...)
	c.machines[name] = m
	return m, nil
}

// Close closes every machine built so far.
func (c *Catalog) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ms := make([]*scenario.Machine, 0, len(c.machines))
	for _, m := range c.machines {
		ms = append(ms, m)
	}
	c.mu.Unlock()

	for _, m := range ms {
		m.Close()
	}
}
