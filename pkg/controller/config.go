package controller

// Config tunes the orchestration loop. Zero values are replaced by defaults in
// Sanitized, except for the boolean switches.
type Config struct {
	// MaxExtensions bounds the extensions a phase can receive, shared
	// between auto-extension and human-approved recovery.
	MaxExtensions       int
	AutoExtendTurns     int
	RecoveryExtendTurns int
	// AutoExtendBelow is the readiness under which a phase about to run out
	// of turns is extended automatically.
	AutoExtendBelow int
	// HumanCheckpointFrom is the readiness from which a phase close to its
	// cap is routed to the human for review.
	HumanCheckpointFrom int

	FacilitatorWindowTurns int
	ContextWindowTurns     int
	NewDialogPerPhase      bool
	SmartForgetting        bool
	PhaseMemoryLimit       int
	// MaxContextTokens caps agent context; 0 disables trimming.
	MaxContextTokens int

	PrioritizeMissingRoles bool
	MaxTurnsPerPhase       int
	GlobalMaxTurns         int
}

func DefaultConfig() Config {
	return Config{
		MaxExtensions:          3,
		AutoExtendTurns:        5,
		RecoveryExtendTurns:    10,
		AutoExtendBelow:        55,
		HumanCheckpointFrom:    65,
		FacilitatorWindowTurns: 8,
		ContextWindowTurns:     6,
		NewDialogPerPhase:      true,
		SmartForgetting:        true,
		PhaseMemoryLimit:       2,
		MaxContextTokens:       6000,
		MaxTurnsPerPhase:       16,
		GlobalMaxTurns:         140,
	}
}

// Sanitized returns a validated copy with defaults filled in.
func (c Config) Sanitized() Config {
	d := DefaultConfig()
	out := c
	if out.MaxExtensions <= 0 {
		out.MaxExtensions = d.MaxExtensions
	}
	if out.AutoExtendTurns <= 0 {
		out.AutoExtendTurns = d.AutoExtendTurns
	}
	if out.RecoveryExtendTurns <= 0 {
		out.RecoveryExtendTurns = d.RecoveryExtendTurns
	}
	if out.AutoExtendBelow <= 0 {
		out.AutoExtendBelow = d.AutoExtendBelow
	}
	if out.HumanCheckpointFrom <= 0 {
		out.HumanCheckpointFrom = d.HumanCheckpointFrom
	}
	if out.FacilitatorWindowTurns <= 0 {
		out.FacilitatorWindowTurns = d.FacilitatorWindowTurns
	}
	if out.ContextWindowTurns < 2 {
		out.ContextWindowTurns = 2
	}
	if out.PhaseMemoryLimit < 0 {
		out.PhaseMemoryLimit = 0
	}
	if out.MaxContextTokens < 0 {
		out.MaxContextTokens = 0
	}
	if out.MaxTurnsPerPhase <= 0 {
		out.MaxTurnsPerPhase = d.MaxTurnsPerPhase
	}
	if out.GlobalMaxTurns <= 0 {
		out.GlobalMaxTurns = d.GlobalMaxTurns
	}
	return out
}
