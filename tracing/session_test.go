package tracing

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DQYXACML/tracecodex/tracing/utils"
)

var (
	slot0 = "0000000000000000000000000000000000000000000000000000000000000000"
	one   = "0000000000000000000000000000000000000000000000000000000000000001"
)

// fullTrace is a top-level call into A that stores a slot, calls B with value,
// makes an instant call to a precompile and runs a constructor that aborts.
func fullTrace() []Step {
	written := map[string]string{slot0: one}
	return []Step{
		{Op: "PUSH1", Depth: 1},
		{Op: "SSTORE", Depth: 1, Stack: stackOf("0x0", "0x1"), Storage: written},
		{Op: "CALL", Depth: 1, Stack: stackOf("0xffff", "0xbb", "0x5", "0x0", "0x4", "0x0", "0x20"),
			Memory: memoryOf("deadbeef"), Storage: written},
		{Op: "SLOAD", Depth: 2, Stack: stackOf("0x0")},
		{Op: "RETURN", Depth: 2, Stack: stackOf("0x0", "0x20"), Memory: memoryOf("01")},
		{Op: "ISZERO", Depth: 1, Stack: stackOf("0x1"), Storage: written},
		{Op: "STATICCALL", Depth: 1, Stack: stackOf("0xffff", "0x4", "0x0", "0x0", "0x0", "0x0"), Storage: written},
		{Op: "CREATE", Depth: 1, Stack: stackOf("0x0", "0x0", "0x3"), Memory: memoryOf("600160"), Storage: written},
		{Op: "PUSH1", Depth: 2},
		{Op: "ADD", Depth: 2, Stack: stackOf("0x1")},
		{Op: "POP", Depth: 1, Stack: stackOf("0x0"), Storage: written},
		{Op: "STOP", Depth: 1, Storage: written},
	}
}

func newTestSession(t *testing.T, steps []Step) *Session {
	reg := NewRegistry()
	reg.Add(Context{ID: "vault", Name: "Vault", Binary: codeB})
	reg.Add(Context{ID: "entry", Name: "Entry", Binary: codeA})

	s, err := NewSession(NewSliceCursor(steps), reg, testTransaction(), 0)
	require.NoError(t, err)
	return s
}

func TestSessionFullTrace(t *testing.T) {
	s := newTestSession(t, fullTrace())
	value := func(v int64) *big.Int { return big.NewInt(v) }

	for {
		require.Len(t, s.CallStack(), s.Step().Depth, "step %d", s.Index())
		assert.GreaterOrEqual(t, s.CodexLen(), len(s.CallStack()))

		switch s.Index() {
		case 0:
			ctx := s.Context()
			require.NotNil(t, ctx)
			assert.Equal(t, ContextID("entry"), ctx.ID)
			assert.False(t, s.IsContextChange())

		case 1:
			slot, err := s.StorageAffected()
			require.NoError(t, err)
			assert.Equal(t, common.Hash{}, *slot)
			assert.Equal(t, common.HexToHash(one), s.Storage()[common.Hash{}])

		case 2:
			assert.True(t, s.IsContextChange())
			assert.False(t, s.IsInstantCallOrCreate())
			v, err := s.CallValue()
			require.NoError(t, err)
			assert.Equal(t, 0, v.Cmp(value(5)))

		case 3:
			frame := s.CurrentFrame()
			require.NotNil(t, frame.Address)
			assert.Equal(t, addrB, *frame.Address)
			assert.Equal(t, addrB, frame.StorageAddress)
			assert.Equal(t, addrA, frame.Sender)
			assert.Equal(t, 0, frame.Value.Cmp(value(5)))
			assert.Equal(t, "0xdeadbeef", frame.Data.String())

			ctx := s.Context()
			require.NotNil(t, ctx)
			assert.Equal(t, ContextID("vault"), ctx.ID)
			assert.Equal(t, "Vault", ctx.Name)

			stored, ok := s.StorageAtDepth(2, addrA)
			require.True(t, ok)
			assert.Equal(t, Storage{common.Hash{}: common.HexToHash(one)}, stored)
			assert.Equal(t, common.HexToHash(one), s.StorageOf(addrA)[common.Hash{}])
			assert.Empty(t, s.Storage())
			assert.Equal(t, 2, s.CodexLen())

		case 4:
			halt, err := s.Halt()
			require.NoError(t, err)
			assert.Equal(t, DeliberateHalt, halt.State)
			assert.True(t, *halt.ReturnStatus)
			out, err := s.ReturnValue()
			require.NoError(t, err)
			assert.Len(t, out, 32)
			assert.Equal(t, byte(0x01), out[0])

		case 6:
			assert.True(t, s.IsInstantCallOrCreate())
			assert.False(t, s.IsContextChange())

		case 7:
			created, err := s.CreatedAddress()
			require.NoError(t, err)
			assert.Equal(t, common.Address{}, *created)
			bin, err := s.CreateBinary()
			require.NoError(t, err)
			assert.Equal(t, "0x600160", bin.String())

		case 8:
			frame := s.CurrentFrame()
			assert.Nil(t, frame.Address)
			assert.True(t, frame.IsCreate)
			assert.Equal(t, addrA, frame.Sender)

			ctx := s.Context()
			require.NotNil(t, ctx)
			assert.False(t, ctx.ID.Known())
			assert.True(t, ctx.IsConstructor)
			assert.Equal(t, "0x600160", ctx.Binary.String())
			assert.Equal(t, 3, s.CodexLen())

		case 9:
			halt, err := s.Halt()
			require.NoError(t, err)
			assert.Equal(t, ExceptionalHalt, halt.State)
			assert.Nil(t, halt.ReturnStatus)

		case 11:
			halt, err := s.Halt()
			require.NoError(t, err)
			assert.Equal(t, DeliberateHalt, halt.State)
			assert.True(t, *halt.ReturnStatus)
		}

		facts, err := s.Facts()
		require.NoError(t, err)
		assert.Equal(t, s.Index(), facts.Index)

		more, err := s.Next()
		require.NoError(t, err)
		if !more {
			break
		}
	}

	assert.Nil(t, s.Step())
	assert.Equal(t, 3, s.CodexLen())

	m := s.Metrics()
	assert.Equal(t, int64(3), m.FramesPushed)
	assert.Equal(t, int64(2), m.FramesPopped)
	assert.Equal(t, int64(1), m.InstantCalls)
	assert.Equal(t, int64(1), m.ExceptionalHalts)
	assert.Greater(t, m.CacheHits, int64(0))
}

func TestSessionQueriesAreMemoized(t *testing.T) {
	s := newTestSession(t, fullTrace())
	for s.Index() < 2 {
		_, err := s.Next()
		require.NoError(t, err)
	}

	first, err := s.Arguments()
	require.NoError(t, err)
	hits := s.Metrics().CacheHits

	second, err := s.Arguments()
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, hits+1, s.Metrics().CacheHits)
}

func TestSessionReturnsCopies(t *testing.T) {
	s := newTestSession(t, fullTrace())
	frame := s.CurrentFrame()
	frame.StorageAddress = addrC
	*frame.Address = addrC

	again := s.CurrentFrame()
	assert.Equal(t, addrA, again.StorageAddress)
	assert.Equal(t, addrA, *again.Address)
}

func TestSessionInconsistentDepth(t *testing.T) {
	t.Run("JumpByTwo", func(t *testing.T) {
		s := newTestSession(t, []Step{
			{Op: "CALL", Depth: 1, Stack: stackOf("0x1", "0xbb", "0x0", "0x0", "0x0", "0x0", "0x0")},
			{Op: "PUSH1", Depth: 3},
		})
		_, err := s.Next()
		assert.True(t, errors.Is(err, utils.ErrInconsistentDepth))
	})

	t.Run("IncreaseWithoutCall", func(t *testing.T) {
		s := newTestSession(t, []Step{
			{Op: "ADD", Depth: 1},
			{Op: "PUSH1", Depth: 2},
		})
		_, err := s.Next()
		assert.True(t, errors.Is(err, utils.ErrInconsistentDepth))
	})

	t.Run("FirstStepNotTopLevel", func(t *testing.T) {
		_, err := NewSession(NewSliceCursor([]Step{{Op: "PUSH1", Depth: 2}}), NewRegistry(), testTransaction(), 0)
		assert.True(t, errors.Is(err, utils.ErrInconsistentDepth))
	})
}

func TestSessionWithoutSteps(t *testing.T) {
	s, err := NewSession(NewSliceCursor(nil), NewRegistry(), nil, 0)
	require.NoError(t, err)

	assert.Nil(t, s.CurrentFrame())
	assert.Nil(t, s.Context())
	assert.Empty(t, s.CallStack())
	assert.Equal(t, 0, s.CodexLen())

	more, err := s.Next()
	require.NoError(t, err)
	assert.False(t, more)
}

func delegateTrace() []Step {
	return []Step{
		{Op: "DELEGATECALL", Depth: 1, Stack: stackOf("0xffff", "0xbb", "0x0", "0x0", "0x0", "0x0")},
		{Op: "SLOAD", Depth: 2, Stack: stackOf("0x0")},
		{Op: "STOP", Depth: 2},
		{Op: "POP", Depth: 1, Stack: stackOf("0x1")},
	}
}

func TestDelegateCallKeepsCallerStorage(t *testing.T) {
	steps := delegateTrace()
	tx := testTransaction()
	tx.Value = big.NewInt(3)
	s, err := NewSession(NewSliceCursor(steps), NewRegistry(), tx, 0)
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)

	frame := s.CurrentFrame()
	assert.Equal(t, addrB, *frame.Address)
	assert.Equal(t, addrA, frame.StorageAddress)
	assert.Equal(t, tx.Sender, frame.Sender)
	assert.Equal(t, int64(3), frame.Value.Int64())
	assert.Equal(t, codeB, []byte(frame.Binary))
}

func TestSliceCursor(t *testing.T) {
	c := NewSliceCursor([]Step{
		{Op: "CALL", Depth: 1},
		{Op: "PUSH1", Depth: 2},
		{Op: "CALL", Depth: 2},
		{Op: "STOP", Depth: 3},
		{Op: "STOP", Depth: 2},
		{Op: "POP", Depth: 1},
	})

	assert.Equal(t, 6, c.StepsRemaining())
	assert.Equal(t, "POP", c.NextStepAtSameDepth().Op)

	require.True(t, c.Advance())
	assert.Equal(t, 1, c.Index())
	assert.Equal(t, "CALL", c.NextStepAtSameDepth().Op)

	require.True(t, c.Advance())
	require.True(t, c.Advance())
	// depth 3 never resumes
	assert.Nil(t, c.NextStepAtSameDepth())

	require.True(t, c.Advance())
	require.True(t, c.Advance())
	assert.Equal(t, 1, c.StepsRemaining())
	assert.Nil(t, c.NextStep())
	assert.False(t, c.Advance())
	assert.Nil(t, c.CurrentStep())
	assert.False(t, c.Advance())
}

func TestSessionDepthProperties(t *testing.T) {
	traces := map[string][]Step{
		"full":     fullTrace(),
		"delegate": delegateTrace(),
	}
	for name, steps := range traces {
		t.Run(name, func(t *testing.T) {
			s := newTestSession(t, steps)
			prevCodex := s.CodexLen()
			for {
				idx := s.Index()
				var next *Step
				if idx+1 < len(steps) {
					next = &steps[idx+1]
				}
				wantChange := next != nil && steps[idx].Depth != next.Depth
				assert.Equal(t, wantChange, s.IsContextChange(), "step %d", idx)
				assert.Len(t, s.CallStack(), steps[idx].Depth, "step %d", idx)
				assert.GreaterOrEqual(t, s.CodexLen(), prevCodex, "step %d", idx)
				assert.GreaterOrEqual(t, s.CodexLen(), len(s.CallStack()), "step %d", idx)
				prevCodex = s.CodexLen()

				more, err := s.Next()
				require.NoError(t, err)
				if !more {
					break
				}
			}
		})
	}
}

func TestFailedConstructorReadsLiveStorage(t *testing.T) {
	two := "0000000000000000000000000000000000000000000000000000000000000002"
	written := map[string]string{slot0: one}
	steps := []Step{
		{Op: "CREATE", Depth: 1, Stack: stackOf("0x0", "0x0", "0x3"), Memory: memoryOf("600160"), Storage: written},
		{Op: "SSTORE", Depth: 2, Stack: stackOf("0x0", "0x2"), Storage: map[string]string{slot0: two}},
		{Op: "ADD", Depth: 2, Stack: stackOf("0x1")},
		{Op: "POP", Depth: 1, Stack: stackOf("0x0"), Storage: written},
		{Op: "STOP", Depth: 1, Storage: written},
	}
	s := newTestSession(t, steps)
	// the zero address is never snapshotted, it always reads the step
	assert.Equal(t, Storage{common.Hash{}: common.HexToHash(one)}, s.StorageOf(common.Address{}))

	_, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, common.Address{}, s.CurrentFrame().StorageAddress)

	live := Storage{common.Hash{}: common.HexToHash(two)}
	assert.Equal(t, live, s.Storage())
	assert.Equal(t, live, s.StorageOf(common.Address{}))

	_, err = s.Next()
	require.NoError(t, err)
	// the step has no storage and the codex is not consulted
	assert.Empty(t, s.Storage())
	assert.Empty(t, s.StorageOf(common.Address{}))
}

func TestCodexSnapshotIgnoresLaterWrites(t *testing.T) {
	two := "0000000000000000000000000000000000000000000000000000000000000002"
	written := map[string]string{slot0: one}
	steps := []Step{
		{Op: "SSTORE", Depth: 1, Stack: stackOf("0x0", "0x1"), Storage: written},
		{Op: "CALL", Depth: 1, Stack: stackOf("0xffff", "0xbb", "0x0", "0x0", "0x0", "0x0", "0x0"), Storage: written},
		{Op: "SSTORE", Depth: 2, Stack: stackOf("0x0", "0x2")},
		{Op: "STOP", Depth: 2, Storage: map[string]string{slot0: two}},
		{Op: "ISZERO", Depth: 1, Stack: stackOf("0x1"), Storage: written},
		{Op: "STOP", Depth: 1, Storage: written},
	}
	s := newTestSession(t, steps)
	for s.Index() < 3 {
		_, err := s.Next()
		require.NoError(t, err)
	}

	// the running frame sees its own write
	assert.Equal(t, common.HexToHash(two), s.Storage()[common.Hash{}])

	entered, ok := s.StorageAtDepth(2, addrB)
	require.True(t, ok)
	assert.Empty(t, entered)
	caller, ok := s.StorageAtDepth(2, addrA)
	require.True(t, ok)
	assert.Equal(t, Storage{common.Hash{}: common.HexToHash(one)}, caller)

	_, err := s.Next()
	require.NoError(t, err)
	require.Equal(t, 1, s.Step().Depth)

	// back in the caller, the callee's snapshot still holds its entry state
	assert.Empty(t, s.StorageOf(addrB))
	stillEntered, ok := s.StorageAtDepth(2, addrB)
	require.True(t, ok)
	assert.Empty(t, stillEntered)
}

func TestFrameOpensWhenCallDataIsOutOfRange(t *testing.T) {
	steps := []Step{
		{Op: "CALL", Depth: 1, Stack: stackOf("0xffff", "0xbb", "0x0", "0x100", "0x4", "0x0", "0x0")},
		{Op: "SLOAD", Depth: 2, Stack: stackOf("0x0")},
		{Op: "STOP", Depth: 2},
		{Op: "ISZERO", Depth: 1, Stack: stackOf("0x1")},
		{Op: "STOP", Depth: 1},
	}
	s := newTestSession(t, steps)

	_, err := s.Facts()
	assert.True(t, errors.Is(err, utils.ErrOutOfRangeSlice))

	more, err := s.Next()
	require.NoError(t, err)
	require.True(t, more)

	frame := s.CurrentFrame()
	require.NotNil(t, frame.Address)
	assert.Equal(t, addrB, *frame.Address)
	assert.Equal(t, addrB, frame.StorageAddress)
	assert.Empty(t, frame.Data)
	assert.Equal(t, ContextID("vault"), s.Context().ID)
	assert.Equal(t, 2, s.CodexLen())

	for more {
		_, err = s.Facts()
		require.NoError(t, err)
		more, err = s.Next()
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), s.Metrics().FramesPopped)
}
