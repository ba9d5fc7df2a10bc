package forward

import (
	"sync"
)

// SizeController decides how many records the next forwarding attempt
// may carry, fed back with each attempt's outcome. Injectable so the
// sizing policy is independently tunable and testable.
type SizeController interface {
	// Next returns the record limit for the next attempt
	Next() int

	// Success reports a delivered attempt
	Success()

	// Failure reports a failed attempt
	Failure()
}

// AdditiveController scales a target batch size by a multiplier kept in
// [floor, 1.0]: grown by a fixed step on success, shrunk by the same
// step on failure. A slow or failing peer therefore sees strictly
// smaller batches until deliveries succeed again.
type AdditiveController struct {
	target int
	floor  float64
	step   float64

	mu         sync.Mutex
	multiplier float64
}

// NewAdditiveController creates a controller starting at full size
func NewAdditiveController(target int, floor, step float64) *AdditiveController {
	return &AdditiveController{
		target:     target,
		floor:      floor,
		step:       step,
		multiplier: 1.0,
	}
}

// Next returns the record limit for the next attempt, at least 1
func (c *AdditiveController) Next() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int(float64(c.target) * c.multiplier)
	if n < 1 {
		n = 1
	}
	return n
}

// Success grows the multiplier toward 1.0
func (c *AdditiveController) Success() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.multiplier += c.step
	if c.multiplier > 1.0 {
		c.multiplier = 1.0
	}
}

// Failure shrinks the multiplier toward the floor
func (c *AdditiveController) Failure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.multiplier -= c.step
	if c.multiplier < c.floor {
		c.multiplier = c.floor
	}
}

// Multiplier returns the current multiplier
func (c *AdditiveController) Multiplier() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiplier
}

// SetMultiplier restores a persisted multiplier, clamped to [floor, 1.0]
func (c *AdditiveController) SetMultiplier(m float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m < c.floor {
		m = c.floor
	}
	if m > 1.0 {
		m = 1.0
	}
	c.multiplier = m
}
