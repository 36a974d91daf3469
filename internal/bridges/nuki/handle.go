package nuki

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-nuki/internal/lock"
)

// LockHandle is one paired lock, backed by the bridge client.
// It implements lock.Handle.
type LockHandle struct {
	client     *Client
	nukiID     int
	deviceType int

	mu              sync.RWMutex
	name            string
	state           int
	stateName       string
	batteryCritical bool
}

var _ lock.Handle = (*LockHandle)(nil)

func newLockHandle(c *Client, l ListedLock) *LockHandle {
	h := &LockHandle{
		client:     c,
		nukiID:     l.NukiID,
		deviceType: l.DeviceType,
		name:       l.Name,
		state:      StateUndefined,
	}
	if l.LastKnownState != nil {
		h.applyStatus(*l.LastKnownState)
	}
	return h
}

// NukiID returns the bridge's identifier for the lock.
func (h *LockHandle) NukiID() int { return h.nukiID }

// Name returns the lock name as configured in the Nuki app.
func (h *LockHandle) Name() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.name
}

// State returns the last reported lock state code.
func (h *LockHandle) State() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// StateName returns the bridge's label for the last state.
func (h *LockHandle) StateName() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stateName
}

// BatteryCritical reports the last known battery warning.
func (h *LockHandle) BatteryCritical() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.batteryCritical
}

// IsLocked reports whether the last state was locked.
func (h *LockHandle) IsLocked() bool {
	return h.State() == StateLocked
}

// Update refreshes the handle. With level false the bridge's cached /list
// entry is used; with level true the lock itself is queried.
func (h *LockHandle) Update(ctx context.Context, level bool) error {
	if level {
		status, err := h.client.LockState(ctx, h.nukiID, h.deviceType)
		if err != nil {
			return err
		}
		h.applyStatus(status)
		return nil
	}

	listed, err := h.client.List(ctx)
	if err != nil {
		return err
	}

	for _, l := range listed {
		if l.NukiID != h.nukiID {
			continue
		}
		h.mu.Lock()
		h.name = l.Name
		h.mu.Unlock()
		if l.LastKnownState != nil {
			h.applyStatus(*l.LastKnownState)
		}
		return nil
	}

	return fmt.Errorf("%w: nuki_id %d", ErrLockNotFound, h.nukiID)
}

// Lock locks the door. When blocking, a successful answer means the lock is
// now locked.
func (h *LockHandle) Lock(ctx context.Context, blocking bool) (*lock.CommandResult, error) {
	return h.action(ctx, ActionLock, blocking, StateLocked)
}

// Unlock unlocks the door. When blocking, a successful answer means the lock
// is now unlocked.
func (h *LockHandle) Unlock(ctx context.Context, blocking bool) (*lock.CommandResult, error) {
	return h.action(ctx, ActionUnlock, blocking, StateUnlocked)
}

// Unlatch opens the door latch.
func (h *LockHandle) Unlatch(ctx context.Context) error {
	return h.fireAndForget(ctx, ActionUnlatch)
}

// LockNGo unlocks, waits the lock's configured interval and relocks.
// With unlatch set the door is unlatched first.
func (h *LockHandle) LockNGo(ctx context.Context, unlatch bool) error {
	action := ActionLockNGo
	if unlatch {
		action = ActionLockNGoUnlatch
	}
	return h.fireAndForget(ctx, action)
}

func (h *LockHandle) action(ctx context.Context, action int, blocking bool, newState int) (*lock.CommandResult, error) {
	result, err := h.client.LockAction(ctx, h.nukiID, h.deviceType, action, blocking)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.batteryCritical = result.BatteryCritical
	if result.Success && blocking {
		h.state = newState
	}
	h.mu.Unlock()

	return &lock.CommandResult{
		Success:         result.Success,
		BatteryCritical: result.BatteryCritical,
	}, nil
}

func (h *LockHandle) fireAndForget(ctx context.Context, action int) error {
	result, err := h.client.LockAction(ctx, h.nukiID, h.deviceType, action, false)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%w: action %d on nuki_id %d", ErrActionFailed, action, h.nukiID)
	}
	return nil
}

func (h *LockHandle) applyStatus(s LockStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s.State
	h.stateName = s.StateName
	h.batteryCritical = s.BatteryCritical
}
