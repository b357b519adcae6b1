package dsp

import (
	"fmt"
	"time"
)

// HysteresisConfig configures a [Hysteresis] detector.
type HysteresisConfig struct {
	// Enter is the value at or above which the detector switches on.
	Enter float64

	// Exit is the value at or below which the detector switches off.
	// Must not exceed Enter.
	Exit float64

	// Hold is the minimum time the detector stays on after switching on.
	// Zero disables holding.
	Hold time.Duration
}

// Hysteresis is a boolean threshold detector with separate enter and exit
// levels and an optional minimum on-time. It is general purpose: the VAD
// stages use it to debounce speech decisions.
type Hysteresis struct {
	cfg        HysteresisConfig
	on         bool
	lastSwitch time.Duration
}

// NewHysteresis validates cfg and returns a detector in the off state.
func NewHysteresis(cfg HysteresisConfig) (*Hysteresis, error) {
	if cfg.Exit > cfg.Enter {
		return nil, fmt.Errorf("dsp: hysteresis exit threshold %v exceeds enter threshold %v", cfg.Exit, cfg.Enter)
	}
	if cfg.Hold < 0 {
		return nil, fmt.Errorf("dsp: hysteresis hold must not be negative, got %s", cfg.Hold)
	}
	return &Hysteresis{cfg: cfg}, nil
}

// Update feeds one observation taken at ts and returns the resulting state.
// Switching off requires the value to be at or below Exit and the hold
// period, measured from the last switch, to have elapsed.
func (h *Hysteresis) Update(value float64, ts time.Duration) bool {
	if h.on {
		holding := h.cfg.Hold > 0 && ts-h.lastSwitch < h.cfg.Hold
		if value <= h.cfg.Exit && !holding {
			h.on = false
			h.lastSwitch = ts
		}
		return h.on
	}
	if value >= h.cfg.Enter {
		h.on = true
		h.lastSwitch = ts
	}
	return h.on
}

// On reports the current state without feeding a new observation.
func (h *Hysteresis) On() bool { return h.on }

// Reset returns the detector to the off state.
func (h *Hysteresis) Reset() {
	h.on = false
	h.lastSwitch = 0
}
