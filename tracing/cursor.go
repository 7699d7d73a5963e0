package tracing

// TraceCursor presents the step being processed and its neighbours.
type TraceCursor interface {
	// Index is the position of the current step in the trace.
	Index() int
	CurrentStep() *Step
	// NextStep is nil on the last step.
	NextStep() *Step
	// NextStepAtSameDepth is the first later step back at the current depth,
	// nil if execution never returns to it.
	NextStepAtSameDepth() *Step
	// StepsRemaining counts the current step.
	StepsRemaining() int
	// Advance moves to the next step and reports whether one exists.
	Advance() bool
}

// SliceCursor walks a fully materialized trace.
type SliceCursor struct {
	steps []Step
	index int
}

// NewSliceCursor creates a cursor positioned on the first step
func NewSliceCursor(steps []Step) *SliceCursor {
	return &SliceCursor{steps: steps}
}

func (c *SliceCursor) Index() int { return c.index }

func (c *SliceCursor) at(i int) *Step {
	if i < 0 || i >= len(c.steps) {
		return nil
	}
	return &c.steps[i]
}

func (c *SliceCursor) CurrentStep() *Step { return c.at(c.index) }

func (c *SliceCursor) NextStep() *Step { return c.at(c.index + 1) }

func (c *SliceCursor) NextStepAtSameDepth() *Step {
	cur := c.CurrentStep()
	if cur == nil {
		return nil
	}
	for i := c.index + 1; i < len(c.steps); i++ {
		switch d := c.steps[i].Depth; {
		case d == cur.Depth:
			return &c.steps[i]
		case d < cur.Depth:
			return nil
		}
	}
	return nil
}

func (c *SliceCursor) StepsRemaining() int {
	if c.index >= len(c.steps) {
		return 0
	}
	return len(c.steps) - c.index
}

func (c *SliceCursor) Advance() bool {
	if c.index >= len(c.steps) {
		return false
	}
	c.index++
	return c.index < len(c.steps)
}
