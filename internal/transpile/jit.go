package transpile

import "github.com/zclconf/go-cty/cty"

// Mode is the specialization state of a Site.
type Mode int

const (
	// Sampling sites take the generic path and inspect their operands.
	Sampling Mode = iota
	// Generic sites have seen a value needing the generic path. Final.
	Generic
	// Native sites call the scalar operation directly. Final.
	Native
)

func (m Mode) String() string {
	switch m {
	case Sampling:
		return "sampling"
	case Generic:
		return "generic"
	case Native:
		return "native"
	}
	return "unknown"
}

// Site is the specialization state machine of one operator, call or
// traversal in a formula.
//
//	Sampling ──(no operand needs it)──► Native   (onNative fires once)
//	  │
//	  └──(some operand needs it)───► Generic
//
// Stale operands tell nothing, so a probing site keeps probing.
type Site struct {
	mode     Mode
	needs    func(cty.Value) bool
	onNative func()
}

// NewSite creates a probing site. needs decides whether an operand requires
// the generic path; onNative is called on specialization.
func NewSite(needs func(cty.Value) bool, onNative func()) *Site {
	return &Site{needs: needs, onNative: onNative}
}

// NewOperatorSite creates a site for a whitelisted operator.
func NewOperatorSite(onNative func()) *Site {
	return NewSite(NeedsGenericOperand, onNative)
}

// NewCallSite creates a site for a call, index or traversal.
func NewCallSite(onNative func()) *Site {
	return NewSite(NeedsGenericArgument, onNative)
}

// Mode returns the current state.
func (s *Site) Mode() Mode {
	return s.mode
}

// Observe feeds the operands of one invocation to a probing site and returns
// the mode the invocation should use.
func (s *Site) Observe(operands ...cty.Value) Mode {
	if s.mode != Sampling {
		return s.mode
	}
	for _, v := range operands {
		if v == cty.NilVal || !v.IsKnown() {
			return Sampling
		}
	}
	for _, v := range operands {
		if s.needs(v) {
			s.mode = Generic
			return s.mode
		}
	}
	s.mode = Native
	if s.onNative != nil {
		s.onNative()
	}
	return s.mode
}
