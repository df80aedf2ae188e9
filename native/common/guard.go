package common

import "errors"

// ErrModulePaused is returned when an operation targets a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view or empty
// module name disables the check so callers can opt out during wiring.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// Pauses is a static PauseView backed by a set of module names. It is the
// deployment-time representation loaded from configuration.
type Pauses map[string]bool

// IsPaused implements the PauseView interface.
func (p Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	return p[module]
}
