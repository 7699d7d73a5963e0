package tracing

import (
	"fmt"

	"github.com/DQYXACML/tracecodex/tracing/opcodes"
	"github.com/DQYXACML/tracecodex/tracing/utils"
)

// HaltState tells whether and how a step leaves its frame.
type HaltState int

const (
	NotHalting HaltState = iota
	DeliberateHalt
	ExceptionalHalt
)

func (h HaltState) String() string {
	switch h {
	case DeliberateHalt:
		return "deliberate"
	case ExceptionalHalt:
		return "exceptional"
	default:
		return "none"
	}
}

// MarshalText encodes the state by name.
func (h HaltState) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *HaltState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*h = NotHalting
	case "deliberate":
		*h = DeliberateHalt
	case "exceptional":
		*h = ExceptionalHalt
	default:
		return fmt.Errorf("unknown halt state %q", text)
	}
	return nil
}

// Halt is the halt classification of one step. ReturnStatus is only set when a
// halting instruction ran; a failed one is classified exceptional.
type Halt struct {
	State        HaltState `json:"state"`
	ReturnStatus *bool     `json:"returnStatus,omitempty"`
}

// IsHalting reports any kind of halt.
func (h Halt) IsHalting() bool {
	return h.State != NotHalting
}

// IsExceptional reports aborts as well as ordinary halts that failed, such as a
// REVERT.
func (h Halt) IsExceptional() bool {
	return h.State == ExceptionalHalt
}

// ClassifyHalt classifies the step at depth. next is the following step, nil
// when the step is the last one; remaining counts the current step.
func ClassifyHalt(c opcodes.Classification, depth int, next *Step, remaining int, finalStatus bool) (Halt, error) {
	last := remaining <= 1 || next == nil

	if !c.IsHalting {
		switch {
		case last && !finalStatus:
			return Halt{State: ExceptionalHalt}, nil
		case !last && next.Depth < depth:
			return Halt{State: ExceptionalHalt}, nil
		default:
			return Halt{State: NotHalting}, nil
		}
	}

	status := finalStatus
	if !last {
		// the caller's next step has the success flag (or created address) on top
		top, err := next.Back(0)
		if err != nil {
			return Halt{}, err
		}
		if _, err := utils.NormalizeWord(top); err != nil {
			return Halt{}, err
		}
		status = !utils.IsZeroWord(top)
	}
	if !status {
		return Halt{State: ExceptionalHalt, ReturnStatus: &status}, nil
	}
	return Halt{State: DeliberateHalt, ReturnStatus: &status}, nil
}
