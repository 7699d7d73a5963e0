// Package opcodes classifies instruction mnemonics as they appear in struct-log traces.
package opcodes

import (
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

const jumpPrefix = "JUMP"

// legacy mnemonics still emitted by some clients
var aliases = map[string]vm.OpCode{
	"SUICIDE": vm.SELFDESTRUCT,
	"SHA3":    vm.KECCAK256,
}

// Lookup maps a mnemonic to its opcode. ok is false for mnemonics the VM does not define.
func Lookup(mnemonic string) (op vm.OpCode, ok bool) {
	if op, ok := aliases[mnemonic]; ok {
		return op, true
	}
	op = vm.StringToOp(mnemonic)
	// StringToOp yields STOP for unknown names
	return op, op.String() == mnemonic
}

func is(mnemonic string, ops ...vm.OpCode) bool {
	op, ok := Lookup(mnemonic)
	if !ok {
		return false
	}
	for _, o := range ops {
		if op == o {
			return true
		}
	}
	return false
}

// IsJump reports JUMP and JUMPI, but not the JUMPDEST marker.
func IsJump(mnemonic string) bool {
	return mnemonic != vm.JUMPDEST.String() && strings.HasPrefix(mnemonic, jumpPrefix)
}

func IsCall(mnemonic string) bool {
	return is(mnemonic, vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL)
}

func IsCreate(mnemonic string) bool {
	return is(mnemonic, vm.CREATE, vm.CREATE2)
}

// IsShortCall reports calls taking six stack arguments (no value argument).
func IsShortCall(mnemonic string) bool {
	return is(mnemonic, vm.DELEGATECALL, vm.STATICCALL)
}

// IsDelegateCallBroad reports calls executing foreign code against the caller's storage.
func IsDelegateCallBroad(mnemonic string) bool {
	return is(mnemonic, vm.DELEGATECALL, vm.CALLCODE)
}

// IsDelegateCallStrict reports calls that also keep the caller's sender and value.
func IsDelegateCallStrict(mnemonic string) bool {
	return is(mnemonic, vm.DELEGATECALL)
}

func IsStaticCall(mnemonic string) bool {
	return is(mnemonic, vm.STATICCALL)
}

// IsHalting reports the ordinary halting instructions. Exceptional halts are not
// visible from the mnemonic and are detected from depth changes instead.
func IsHalting(mnemonic string) bool {
	return is(mnemonic, vm.STOP, vm.RETURN, vm.REVERT, vm.SELFDESTRUCT)
}

// ReturnsData reports halting instructions whose output is a memory slice.
func ReturnsData(mnemonic string) bool {
	return is(mnemonic, vm.RETURN, vm.REVERT)
}

func IsSelfDestruct(mnemonic string) bool {
	return is(mnemonic, vm.SELFDESTRUCT)
}

func IsStore(mnemonic string) bool {
	return mnemonic == vm.SSTORE.String()
}

func IsLoad(mnemonic string) bool {
	return mnemonic == vm.SLOAD.String()
}

func TouchesStorage(mnemonic string) bool {
	return IsStore(mnemonic) || IsLoad(mnemonic)
}

// Classification holds every predicate for one mnemonic.
type Classification struct {
	Op                   string `json:"op"`
	IsJump               bool   `json:"isJump"`
	IsCall               bool   `json:"isCall"`
	IsCreate             bool   `json:"isCreate"`
	IsShortCall          bool   `json:"isShortCall"`
	IsDelegateCallBroad  bool   `json:"isDelegateCallBroad"`
	IsDelegateCallStrict bool   `json:"isDelegateCallStrict"`
	IsStaticCall         bool   `json:"isStaticCall"`
	IsHalting            bool   `json:"isHalting"`
	IsStore              bool   `json:"isStore"`
	IsLoad               bool   `json:"isLoad"`
	TouchesStorage       bool   `json:"touchesStorage"`
}

// Classify evaluates all predicates for mnemonic.
func Classify(mnemonic string) Classification {
	return Classification{
		Op:                   mnemonic,
		IsJump:               IsJump(mnemonic),
		IsCall:               IsCall(mnemonic),
		IsCreate:             IsCreate(mnemonic),
		IsShortCall:          IsShortCall(mnemonic),
		IsDelegateCallBroad:  IsDelegateCallBroad(mnemonic),
		IsDelegateCallStrict: IsDelegateCallStrict(mnemonic),
		IsStaticCall:         IsStaticCall(mnemonic),
		IsHalting:            IsHalting(mnemonic),
		IsStore:              IsStore(mnemonic),
		IsLoad:               IsLoad(mnemonic),
		TouchesStorage:       TouchesStorage(mnemonic),
	}
}

// IsCallOrCreate reports any instruction that may open a new frame.
func (c Classification) IsCallOrCreate() bool {
	return c.IsCall || c.IsCreate
}
