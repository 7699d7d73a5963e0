package tracing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/tracecodex/tracing/opcodes"
	"github.com/DQYXACML/tracecodex/tracing/utils"
)

// CodeSource supplies the code of accounts that were deployed before the
// transaction ran.
type CodeSource interface {
	CodeAt(addr common.Address) ([]byte, bool)
}

// Tracker owns the live call stack and the codex. Only Begin and Advance
// mutate it; everything else returns copies.
type Tracker struct {
	resolver *ContextResolver
	codes    CodeSource
	metrics  *utils.MetricsCollector

	stack []*CallFrame
	codex []*CodexEntry
}

// NewTracker creates a tracker with an empty call stack
func NewTracker(resolver *ContextResolver, codes CodeSource, metrics *utils.MetricsCollector) *Tracker {
	if metrics == nil {
		metrics = utils.NewMetricsCollector()
	}
	return &Tracker{
		resolver: resolver,
		codes:    codes,
		metrics:  metrics,
	}
}

// Begin pushes the top-level frame of tx and records the first codex entry.
func (t *Tracker) Begin(tx *Transaction) {
	frame := &CallFrame{
		Sender: tx.Sender,
		Value:  tx.Value,
	}
	if tx.To != nil {
		addr := *tx.To
		code, _ := t.codes.CodeAt(addr)
		frame.Address = &addr
		frame.Binary = code
		frame.StorageAddress = addr
		frame.Context = t.resolver.ResolveID(code)
		frame.Data = tx.Input
	} else {
		frame.Binary = tx.Input
		frame.IsCreate = true
		frame.Context = t.resolver.ResolveID(tx.Input)
		if tx.ContractAddress != nil {
			frame.StorageAddress = *tx.ContractAddress
		}
	}

	entry := &CodexEntry{Accounts: make(map[common.Address]*AccountSnapshot)}
	t.push(frame, entry, nil)
}

// Depth returns the number of live frames.
func (t *Tracker) Depth() int {
	return len(t.stack)
}

// CodexLen returns the number of recorded codex entries.
func (t *Tracker) CodexLen() int {
	return len(t.codex)
}

// Top returns a copy of the innermost frame, nil when the stack is empty.
func (t *Tracker) Top() *CallFrame {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1].copy()
}

// Frames returns copies of the live frames, outermost first.
func (t *Tracker) Frames() []*CallFrame {
	frames := make([]*CallFrame, len(t.stack))
	for i, f := range t.stack {
		frames[i] = f.copy()
	}
	return frames
}

func (t *Tracker) latest() *CodexEntry {
	if len(t.codex) == 0 {
		return nil
	}
	return t.codex[len(t.codex)-1]
}

// Instances projects the latest codex entry by address.
func (t *Tracker) Instances() map[common.Address]Instance {
	out := make(map[common.Address]Instance)
	entry := t.latest()
	if entry == nil {
		return out
	}
	for addr, acct := range entry.Accounts {
		out[addr] = Instance{Code: acct.Code, Context: acct.Context}
	}
	return out
}

// Storage returns the storage of addr as seen by step. The zero address
// belongs to a failed construction and reads the step's live storage. Other
// accounts read the latest codex snapshot, with the live storage of the
// running frame laid over its own account.
func (t *Tracker) Storage(addr common.Address, step *Step) Storage {
	if addr == (common.Address{}) {
		if step == nil {
			return Storage{}
		}
		return step.StorageMap()
	}
	var out Storage
	if entry := t.latest(); entry != nil {
		if acct, ok := entry.Accounts[addr]; ok {
			out = acct.Storage.Copy()
		}
	}
	if out == nil {
		out = Storage{}
	}
	if top := t.Top(); top != nil && step != nil && top.StorageAddress == addr {
		for k, v := range step.StorageMap() {
			out[k] = v
		}
	}
	return out
}

// StorageAtDepth returns the storage of addr in the most recent codex entry
// recorded at depth.
func (t *Tracker) StorageAtDepth(depth int, addr common.Address) (Storage, bool) {
	for i := len(t.codex) - 1; i >= 0; i-- {
		entry := t.codex[i]
		if entry.Depth != depth {
			continue
		}
		acct, ok := entry.Accounts[addr]
		if !ok {
			return nil, false
		}
		return acct.Storage.Copy(), true
	}
	return nil, false
}

// IsInstantCallOrCreate reports a call or create that opened no frame: the
// target was a precompile or an account without code, the call stack was
// exhausted, or the value transfer failed.
func IsInstantCallOrCreate(c opcodes.Classification, step, next *Step) bool {
	return c.IsCallOrCreate() && next != nil && next.Depth == step.Depth
}

// IsContextChange reports any depth change between step and next.
func IsContextChange(step, next *Step) bool {
	return next != nil && step.Depth != next.Depth
}

// Advance applies the transition from step to next. sameDepthNext is the first
// later step back at step's depth and may be nil.
func (t *Tracker) Advance(step, next, sameDepthNext *Step) error {
	if next == nil {
		return nil
	}
	if len(t.stack) != step.Depth {
		return utils.NewInconsistentDepthError("call stack does not match step depth",
			step.Depth, next.Depth, len(t.stack))
	}
	c := opcodes.Classify(step.Op)

	switch {
	case next.Depth == step.Depth:
		if c.IsCallOrCreate() {
			t.metrics.RecordInstantCall()
		}
		return nil

	case next.Depth == step.Depth+1:
		if !c.IsCallOrCreate() {
			return utils.NewInconsistentDepthError("depth increased without a call or create",
				step.Depth, next.Depth, len(t.stack)).AddContext("op", step.Op)
		}
		frame := t.frameFor(c, step, sameDepthNext)
		entry := t.latest().clone(next.Depth)
		t.push(frame, entry, step)
		return nil

	case next.Depth > step.Depth:
		return utils.NewInconsistentDepthError("depth increased by more than one frame",
			step.Depth, next.Depth, len(t.stack))

	default:
		if next.Depth < 1 {
			return utils.NewInconsistentDepthError("depth fell below the top-level frame",
				step.Depth, next.Depth, len(t.stack))
		}
		popped := len(t.stack) - next.Depth
		t.stack = t.stack[:next.Depth]
		t.metrics.RecordFramesPopped(popped)
		log.Debug("Popped call frames", "count", popped, "depth", next.Depth)
		return nil
	}
}

// push records the frame and its codex entry. The caller's account is brought
// up to date from the calling step's storage before the snapshot is sealed.
func (t *Tracker) push(frame *CallFrame, entry *CodexEntry, callStep *Step) {
	entry.Depth = len(t.stack) + 1

	if caller := t.Top(); caller != nil && callStep != nil {
		acct := ensureAccount(entry, caller.StorageAddress)
		for k, v := range callStep.StorageMap() {
			acct.Storage[k] = v
		}
	}
	if frame.Address != nil {
		acct := ensureAccount(entry, *frame.Address)
		if len(acct.Code) == 0 {
			acct.Code = frame.Binary
			acct.Context = frame.Context
		}
	}
	if frame.StorageAddress != (common.Address{}) {
		ensureAccount(entry, frame.StorageAddress)
	}

	t.stack = append(t.stack, frame)
	t.codex = append(t.codex, entry)
	t.metrics.RecordFramePushed()
	log.Debug("Pushed call frame", "depth", entry.Depth, "storageAddress", frame.StorageAddress, "create", frame.IsCreate)
}

func ensureAccount(entry *CodexEntry, addr common.Address) *AccountSnapshot {
	acct, ok := entry.Accounts[addr]
	if !ok {
		acct = &AccountSnapshot{Storage: Storage{}}
		entry.Accounts[addr] = acct
	}
	return acct
}

// frameFor builds the frame opened by a call or create from whatever arguments
// decode. A failed argument leaves its field unset: the step itself reports the
// decoding error, and the frame must still be pushed to keep depth bookkeeping.
func (t *Tracker) frameFor(c opcodes.Classification, step, sameDepthNext *Step) *CallFrame {
	parent := t.stack[len(t.stack)-1]
	skip := func(field string, err error) {
		log.Debug("Frame argument not decoded", "op", step.Op, "pc", step.Pc, "field", field, "err", err)
	}

	if c.IsCreate {
		frame := &CallFrame{
			Sender:   parent.StorageAddress,
			IsCreate: true,
		}
		if binary, err := CreateBinary(c, step); err != nil {
			skip("binary", err)
		} else {
			frame.Binary = binary
			frame.Context = t.resolver.ResolveID(binary)
		}
		if value, err := CreateValue(c, step); err != nil {
			skip("value", err)
		} else {
			frame.Value = value
		}
		if created, err := CreatedAddress(c, sameDepthNext); err != nil {
			skip("createdAddress", err)
		} else if created != nil {
			frame.StorageAddress = *created
		}
		if frame.Value == nil {
			frame.Value = new(big.Int)
		}
		return frame
	}

	frame := &CallFrame{Sender: parent.StorageAddress}
	if addr, err := CallAddress(c, step); err != nil {
		skip("address", err)
	} else {
		frame.Address = addr
		frame.StorageAddress = *addr
		frame.Binary, frame.Context = t.codeOf(*addr)
	}
	if data, err := CallData(c, step); err != nil {
		skip("data", err)
	} else {
		frame.Data = data
	}
	if value, err := CallValue(c, step); err != nil {
		skip("value", err)
	} else {
		frame.Value = value
	}
	if c.IsDelegateCallBroad {
		frame.StorageAddress = parent.StorageAddress
	}
	if c.IsDelegateCallStrict {
		frame.Sender = parent.Sender
		frame.Value = parent.Value
	}
	if frame.Value == nil {
		frame.Value = new(big.Int)
	}
	return frame
}

// codeOf prefers code and context already recorded in the codex over the code
// source, so accounts created earlier in the trace keep the context fixed then.
func (t *Tracker) codeOf(addr common.Address) ([]byte, ContextID) {
	if entry := t.latest(); entry != nil {
		if acct, ok := entry.Accounts[addr]; ok && len(acct.Code) > 0 {
			return acct.Code, acct.Context
		}
	}
	code, _ := t.codes.CodeAt(addr)
	return code, t.resolver.ResolveID(code)
}
