package datasource

import "sync"

// compensations is a list of undo actions. Each action runs at most once,
// either through run or never if it was deregistered first.
type compensations struct {
	mu      sync.Mutex
	nextID  int
	actions map[int]func()
	order   []int
}

func newCompensations() *compensations {
	return &compensations{actions: make(map[int]func())}
}

// register adds fn and returns a func that removes it again. The returned
// func is safe to call any number of times.
func (c *compensations) register(fn func()) (deregister func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.actions[id] = fn
	c.order = append(c.order, id)
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.actions, id)
		c.mu.Unlock()
	}
}

// run executes every still-registered action in reverse registration order
// and clears the list.
func (c *compensations) run() {
	c.mu.Lock()
	var pending []func()
	for i := len(c.order) - 1; i >= 0; i-- {
		if fn, ok := c.actions[c.order[i]]; ok {
			pending = append(pending, fn)
		}
	}
	c.actions = make(map[int]func())
	c.order = nil
	c.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}
