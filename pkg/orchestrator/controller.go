package orchestrator

import "sync"

// Controller enforces the single-active-generation rule per conversation.
// Starting a new generation first cancels the prior one and waits for it to
// reach a stopped state, so two loops never mutate the same accumulating
// turn. Enforcement is cancel-then-start, not lock acquisition: nothing
// blocks indefinitely holding the controller's lock.
type Controller struct {
	mu     sync.Mutex
	active map[string]*Generation
}

// NewController creates an empty controller.
func NewController() *Controller {
	return &Controller{active: make(map[string]*Generation)}
}

// Acquire registers gen as the conversation's active generation. If another
// generation is active it is cancelled first, and Acquire returns only once
// it has stopped.
func (c *Controller) Acquire(conversationID string, gen *Generation) {
	c.mu.Lock()
	prior := c.active[conversationID]
	c.active[conversationID] = gen
	c.mu.Unlock()

	if prior != nil {
		prior.Cancel()
		<-prior.Done()
	}
}

// Release clears the conversation's slot if gen is still its active
// generation. A newer generation that already replaced gen is left alone.
func (c *Controller) Release(conversationID string, gen *Generation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active[conversationID] == gen {
		delete(c.active, conversationID)
	}
}

// Cancel cancels the conversation's active generation, if any. It does not
// wait for the generation to stop.
func (c *Controller) Cancel(conversationID string) bool {
	c.mu.Lock()
	gen := c.active[conversationID]
	c.mu.Unlock()

	if gen == nil {
		return false
	}
	gen.Cancel()
	return true
}

// Active returns the conversation's active generation, or nil.
func (c *Controller) Active(conversationID string) *Generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[conversationID]
}
