package opcodes

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/stretchr/testify/assert"
)

func TestIsJump(t *testing.T) {
	assert.True(t, IsJump("JUMP"))
	assert.True(t, IsJump("JUMPI"))
	assert.False(t, IsJump("JUMPDEST"))
	assert.False(t, IsJump("PUSH1"))
}

func TestCallFamilies(t *testing.T) {
	tests := []struct {
		op                                     string
		call, short, broad, strict, static, cr bool
	}{
		{"CALL", true, false, false, false, false, false},
		{"CALLCODE", true, false, true, false, false, false},
		{"DELEGATECALL", true, true, true, true, false, false},
		{"STATICCALL", true, true, false, false, true, false},
		{"CREATE", false, false, false, false, false, true},
		{"CREATE2", false, false, false, false, false, true},
		{"ADD", false, false, false, false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.call, IsCall(tt.op))
			assert.Equal(t, tt.short, IsShortCall(tt.op))
			assert.Equal(t, tt.broad, IsDelegateCallBroad(tt.op))
			assert.Equal(t, tt.strict, IsDelegateCallStrict(tt.op))
			assert.Equal(t, tt.static, IsStaticCall(tt.op))
			assert.Equal(t, tt.cr, IsCreate(tt.op))
		})
	}
}

func TestIsHalting(t *testing.T) {
	for _, op := range []string{"STOP", "RETURN", "REVERT", "SELFDESTRUCT", "SUICIDE"} {
		assert.True(t, IsHalting(op), op)
	}
	for _, op := range []string{"INVALID", "CALL", "SSTORE", "NOT_AN_OPCODE", ""} {
		assert.False(t, IsHalting(op), op)
	}
	assert.True(t, ReturnsData("RETURN"))
	assert.True(t, ReturnsData("REVERT"))
	assert.False(t, ReturnsData("STOP"))
}

func TestUnknownMnemonicIsNotStop(t *testing.T) {
	_, ok := Lookup("BOGUS")
	assert.False(t, ok)
	op, ok := Lookup("STOP")
	assert.True(t, ok)
	assert.Equal(t, vm.STOP, op)
}

func TestTouchesStorageExclusive(t *testing.T) {
	for i := 0; i < 256; i++ {
		name := vm.OpCode(i).String()
		store, load := IsStore(name), IsLoad(name)
		assert.Equal(t, store != load, TouchesStorage(name), name)
		assert.False(t, store && load, name)
	}
}

func TestClassify(t *testing.T) {
	c := Classify("STATICCALL")
	assert.True(t, c.IsCall)
	assert.True(t, c.IsShortCall)
	assert.True(t, c.IsStaticCall)
	assert.True(t, c.IsCallOrCreate())
	assert.False(t, c.IsHalting)

	c = Classify("SSTORE")
	assert.True(t, c.TouchesStorage)
	assert.False(t, c.IsCallOrCreate())
}
