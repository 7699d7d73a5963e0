package tracing

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DQYXACML/tracecodex/tracing/opcodes"
	"github.com/DQYXACML/tracecodex/tracing/utils"
)

const DefaultCacheSize = 4096

type queryKey struct {
	index int
	name  string
}

// StepFacts bundles everything derived for one step.
type StepFacts struct {
	Index                 int                    `json:"index"`
	Pc                    uint64                 `json:"pc"`
	Op                    string                 `json:"op"`
	Depth                 int                    `json:"depth"`
	GasCost               uint64                 `json:"gasCost"`
	Classification        opcodes.Classification `json:"classification"`
	Arguments             *Arguments             `json:"arguments"`
	Halt                  Halt                   `json:"halt"`
	IsContextChange       bool                   `json:"isContextChange"`
	IsInstantCallOrCreate bool                   `json:"isInstantCallOrCreate"`
	Frame                 *CallFrame             `json:"frame,omitempty"`
	Context               *Context               `json:"context,omitempty"`
	CodexLen              int                    `json:"codexLen"`
}

// Session is the read-only query surface over a trace. Every query is a pure
// function of the current step index, so results are memoized by
// (step index, query name). Only Next moves the session forward.
type Session struct {
	cursor   TraceCursor
	tx       *Transaction
	resolver *ContextResolver
	tracker  *Tracker
	cache    *lru.Cache[queryKey, any]
	metrics  *utils.MetricsCollector
}

// NewSession positions a session on the cursor's current step. A cursor with
// no steps yields a session without frames or context.
func NewSession(cursor TraceCursor, registry ContextRegistry, tx *Transaction, cacheSize int) (*Session, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if tx == nil {
		tx = &Transaction{}
	}
	cache, err := lru.New[queryKey, any](cacheSize)
	if err != nil {
		return nil, err
	}
	metrics := utils.NewMetricsCollector()
	resolver := NewContextResolver(registry)
	s := &Session{
		cursor:   cursor,
		tx:       tx,
		resolver: resolver,
		tracker:  NewTracker(resolver, tx, metrics),
		cache:    cache,
		metrics:  metrics,
	}

	if step := cursor.CurrentStep(); step != nil {
		s.tracker.Begin(tx)
		if err := s.checkDepth(step); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func memo[T any](s *Session, name string, compute func() (T, error)) (T, error) {
	key := queryKey{index: s.cursor.Index(), name: name}
	if v, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheLookup(true)
		return v.(T), nil
	}
	s.metrics.RecordCacheLookup(false)

	v, err := compute()
	if err != nil {
		s.metrics.RecordDecodeFailure()
		var zero T
		return zero, err
	}
	s.cache.Add(key, v)
	return v, nil
}

func (s *Session) checkDepth(step *Step) error {
	if s.tracker.Depth() != step.Depth {
		return utils.NewInconsistentDepthError("call stack length differs from step depth",
			step.Depth, step.Depth, s.tracker.Depth())
	}
	if s.tracker.CodexLen() < s.tracker.Depth() {
		return utils.NewInconsistentDepthError("codex shorter than call stack",
			step.Depth, step.Depth, s.tracker.Depth())
	}
	return nil
}

// Next applies the transition to the following step and moves onto it.
// It reports false once the trace is exhausted.
func (s *Session) Next() (bool, error) {
	step := s.cursor.CurrentStep()
	if step == nil {
		return false, nil
	}
	start := time.Now()

	if halt, err := s.Halt(); err == nil && halt.IsExceptional() {
		s.metrics.RecordExceptionalHalt()
	}
	if err := s.tracker.Advance(step, s.cursor.NextStep(), s.cursor.NextStepAtSameDepth()); err != nil {
		return false, err
	}
	s.metrics.RecordStep(time.Since(start))

	if !s.cursor.Advance() {
		return false, nil
	}
	if err := s.checkDepth(s.cursor.CurrentStep()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) Index() int { return s.cursor.Index() }

func (s *Session) Step() *Step { return s.cursor.CurrentStep() }

func (s *Session) Transaction() *Transaction { return s.tx }

func (s *Session) Metrics() utils.MetricsSnapshot { return s.metrics.Snapshot() }

func (s *Session) Classification() opcodes.Classification {
	step := s.cursor.CurrentStep()
	if step == nil {
		return opcodes.Classification{}
	}
	c, _ := memo(s, "classification", func() (opcodes.Classification, error) {
		return opcodes.Classify(step.Op), nil
	})
	return c
}

// Arguments extracts the call, create, storage and return arguments of the
// current step.
func (s *Session) Arguments() (*Arguments, error) {
	step := s.cursor.CurrentStep()
	if step == nil {
		return &Arguments{}, nil
	}
	return memo(s, "arguments", func() (*Arguments, error) {
		return ExtractArguments(s.Classification(), step, s.cursor.NextStepAtSameDepth())
	})
}

func (s *Session) CallAddress() (*common.Address, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.CallAddress, nil
}

func (s *Session) CallData() (hexutil.Bytes, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.CallData, nil
}

func (s *Session) CallValue() (*big.Int, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.CallValue, nil
}

func (s *Session) CreateBinary() (hexutil.Bytes, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.CreateBinary, nil
}

func (s *Session) CreateValue() (*big.Int, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.CreateValue, nil
}

func (s *Session) CreatedAddress() (*common.Address, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.CreatedAddress, nil
}

func (s *Session) StorageAffected() (*common.Hash, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.StorageAffected, nil
}

func (s *Session) ReturnValue() (hexutil.Bytes, error) {
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	return args.ReturnValue, nil
}

// Halt classifies the current step as not halting, a deliberate halt or an
// exceptional halt.
func (s *Session) Halt() (Halt, error) {
	step := s.cursor.CurrentStep()
	if step == nil {
		return Halt{}, nil
	}
	return memo(s, "halt", func() (Halt, error) {
		return ClassifyHalt(s.Classification(), step.Depth, s.cursor.NextStep(),
			s.cursor.StepsRemaining(), s.tx.FinalStatus())
	})
}

func (s *Session) IsContextChange() bool {
	step := s.cursor.CurrentStep()
	return step != nil && IsContextChange(step, s.cursor.NextStep())
}

func (s *Session) IsInstantCallOrCreate() bool {
	step := s.cursor.CurrentStep()
	return step != nil && IsInstantCallOrCreate(s.Classification(), step, s.cursor.NextStep())
}

// CurrentFrame returns a copy of the innermost call frame.
func (s *Session) CurrentFrame() *CallFrame {
	return s.tracker.Top()
}

// CallStack returns copies of the live frames, outermost first.
func (s *Session) CallStack() []*CallFrame {
	return s.tracker.Frames()
}

func (s *Session) CodexLen() int {
	return s.tracker.CodexLen()
}

// Instances projects the latest codex entry by address.
func (s *Session) Instances() map[common.Address]Instance {
	return s.tracker.Instances()
}

// Context resolves the context executing the current step.
func (s *Session) Context() *Context {
	ctx, _ := memo(s, "context", func() (*Context, error) {
		return s.resolver.Resolve(s.tracker.Top(), s.tracker.Instances()), nil
	})
	return ctx
}

// Storage returns the storage of the account the current frame uses.
func (s *Session) Storage() Storage {
	top := s.tracker.Top()
	if top == nil {
		return Storage{}
	}
	return s.tracker.Storage(top.StorageAddress, s.cursor.CurrentStep())
}

// StorageOf returns the storage of addr at the current step.
func (s *Session) StorageOf(addr common.Address) Storage {
	return s.tracker.Storage(addr, s.cursor.CurrentStep())
}

// StorageAtDepth returns the storage of addr as recorded when the call stack
// last reached depth.
func (s *Session) StorageAtDepth(depth int, addr common.Address) (Storage, bool) {
	return s.tracker.StorageAtDepth(depth, addr)
}

// Facts collects every derived value for the current step.
func (s *Session) Facts() (*StepFacts, error) {
	step := s.cursor.CurrentStep()
	if step == nil {
		return nil, nil
	}
	args, err := s.Arguments()
	if err != nil {
		return nil, err
	}
	halt, err := s.Halt()
	if err != nil {
		return nil, err
	}
	return &StepFacts{
		Index:                 s.cursor.Index(),
		Pc:                    step.Pc,
		Op:                    step.Op,
		Depth:                 step.Depth,
		GasCost:               step.GasCost,
		Classification:        s.Classification(),
		Arguments:             args,
		Halt:                  halt,
		IsContextChange:       s.IsContextChange(),
		IsInstantCallOrCreate: s.IsInstantCallOrCreate(),
		Frame:                 s.CurrentFrame(),
		Context:               s.Context(),
		CodexLen:              s.tracker.CodexLen(),
	}, nil
}
