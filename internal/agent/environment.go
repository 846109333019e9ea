package agent

import (
	"fmt"
	"sync"
	"time"
)

// Environment is the simulated world a persona lives in. Its clock stamps
// every memory event and only moves forward.
type Environment struct {
	mu      sync.RWMutex
	current time.Time
	params  map[string]any
}

// NewEnvironment starts the clock at start, or at the wall clock when zero.
func NewEnvironment(start time.Time) *Environment {
	if start.IsZero() {
		start = time.Now()
	}
	return &Environment{current: start, params: make(map[string]any)}
}

// Now returns the simulated current time.
func (e *Environment) Now() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// Advance moves the clock forward by d.
func (e *Environment) Advance(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("environment: cannot move clock backwards by %s", d)
	}
	e.mu.Lock()
	e.current = e.current.Add(d)
	e.mu.Unlock()
	return nil
}

// Set stores a world parameter.
func (e *Environment) Set(key string, value any) {
	e.mu.Lock()
	e.params[key] = value
	e.mu.Unlock()
}

// Param returns a world parameter.
func (e *Environment) Param(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.params[key]
	return v, ok
}
