package tracing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/DQYXACML/tracecodex/tracing/opcodes"
	"github.com/DQYXACML/tracecodex/tracing/utils"
)

// Stack positions, counted from the top (0 is the top).
//
//	CALL/CALLCODE:           gas, addr, value, argsOffset, argsLength, retOffset, retLength
//	DELEGATECALL/STATICCALL: gas, addr, argsOffset, argsLength, retOffset, retLength
//	CREATE:                  value, offset, length
//	CREATE2:                 value, offset, length, salt
//	RETURN/REVERT:           offset, length
//	SSTORE/SLOAD:            key, ...
const (
	callAddressPos    = 1
	callValuePos      = 2
	callArgsOffsetPos = 3
	callArgsLengthPos = 4
	createValuePos    = 0
	createOffsetPos   = 1
	createLengthPos   = 2
	createSaltPos     = 3
	returnOffsetPos   = 0
	returnLengthPos   = 1
	storageKeyPos     = 0
	beneficiaryPos    = 0
	createdAddressPos = 0
)

// Arguments bundles every argument extracted for one step. Nil fields are
// not applicable to the step's instruction.
type Arguments struct {
	CallAddress             *common.Address `json:"callAddress,omitempty"`
	CallData                hexutil.Bytes   `json:"callData,omitempty"`
	CallValue               *big.Int        `json:"callValue,omitempty"`
	CreateBinary            hexutil.Bytes   `json:"createBinary,omitempty"`
	CreateValue             *big.Int        `json:"createValue,omitempty"`
	CreateSalt              *common.Hash    `json:"createSalt,omitempty"`
	CreatedAddress          *common.Address `json:"createdAddress,omitempty"`
	StorageAffected         *common.Hash    `json:"storageAffected,omitempty"`
	ReturnValue             hexutil.Bytes   `json:"returnValue,omitempty"`
	SelfDestructBeneficiary *common.Address `json:"selfDestructBeneficiary,omitempty"`
}

func addressAt(step *Step, pos int) (*common.Address, error) {
	word, err := step.Back(pos)
	if err != nil {
		return nil, err
	}
	addr, err := utils.HexToAddress(word)
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func hashAt(step *Step, pos int) (*common.Hash, error) {
	word, err := step.Back(pos)
	if err != nil {
		return nil, err
	}
	norm, err := utils.NormalizeWord(word)
	if err != nil {
		return nil, err
	}
	h := common.HexToHash(norm)
	return &h, nil
}

func valueAt(step *Step, pos int) (*big.Int, error) {
	word, err := step.Back(pos)
	if err != nil {
		return nil, err
	}
	return utils.HexToUnsignedBigInt(word)
}

// memoryAt reads the memory slice described by the offset and length words at
// the given stack positions. The result is never nil.
func memoryAt(step *Step, offsetPos, lengthPos int) (hexutil.Bytes, error) {
	offset, err := step.Back(offsetPos)
	if err != nil {
		return nil, err
	}
	length, err := step.Back(lengthPos)
	if err != nil {
		return nil, err
	}
	slice, err := utils.MemorySlice(step.MemoryImage(), offset, length)
	if err != nil {
		return nil, err
	}
	data, err := hexutil.Decode("0x" + slice)
	if err != nil {
		return nil, utils.WrapError(utils.ErrorTypeDecoding, "memory is not hex", err).
			AddContext("pc", step.Pc)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// CallAddress is the target of a call instruction.
func CallAddress(c opcodes.Classification, step *Step) (*common.Address, error) {
	if !c.IsCall {
		return nil, nil
	}
	return addressAt(step, callAddressPos)
}

// CreateBinary is the init code handed to a create instruction.
func CreateBinary(c opcodes.Classification, step *Step) (hexutil.Bytes, error) {
	if !c.IsCreate {
		return nil, nil
	}
	return memoryAt(step, createOffsetPos, createLengthPos)
}

// CallData is the input of a call. Six-argument calls carry no value word, so
// their offset and length sit one slot nearer the top.
func CallData(c opcodes.Classification, step *Step) (hexutil.Bytes, error) {
	if !c.IsCall {
		return nil, nil
	}
	shortOffset := 0
	if c.IsShortCall {
		shortOffset = 1
	}
	return memoryAt(step, callArgsOffsetPos-shortOffset, callArgsLengthPos-shortOffset)
}

// CallValue is the value transferred by a call. Strict delegate calls inherit
// the caller's value and report none; static calls always transfer zero.
func CallValue(c opcodes.Classification, step *Step) (*big.Int, error) {
	if !c.IsCall || c.IsDelegateCallStrict {
		return nil, nil
	}
	if c.IsStaticCall {
		return new(big.Int), nil
	}
	return valueAt(step, callValuePos)
}

func CreateValue(c opcodes.Classification, step *Step) (*big.Int, error) {
	if !c.IsCreate {
		return nil, nil
	}
	return valueAt(step, createValuePos)
}

// CreateSalt is the salt word of a CREATE2.
func CreateSalt(c opcodes.Classification, step *Step) (*common.Hash, error) {
	if !c.IsCreate || c.Op != "CREATE2" {
		return nil, nil
	}
	return hashAt(step, createSaltPos)
}

// CreatedAddress reads the address a create pushed, from the first step back
// at the creator's depth. The zero address means the creation failed.
func CreatedAddress(c opcodes.Classification, sameDepthNext *Step) (*common.Address, error) {
	if !c.IsCreate || sameDepthNext == nil {
		return nil, nil
	}
	return addressAt(sameDepthNext, createdAddressPos)
}

// StorageAffected is the slot key an SSTORE or SLOAD touches.
func StorageAffected(c opcodes.Classification, step *Step) (*common.Hash, error) {
	if !c.TouchesStorage {
		return nil, nil
	}
	return hashAt(step, storageKeyPos)
}

// ReturnValue is the output of an ordinary halt: empty for STOP and
// SELFDESTRUCT, the memory slice for RETURN and REVERT.
func ReturnValue(c opcodes.Classification, step *Step) (hexutil.Bytes, error) {
	if !c.IsHalting {
		return nil, nil
	}
	if !opcodes.ReturnsData(c.Op) {
		return hexutil.Bytes{}, nil
	}
	return memoryAt(step, returnOffsetPos, returnLengthPos)
}

func SelfDestructBeneficiary(c opcodes.Classification, step *Step) (*common.Address, error) {
	if !opcodes.IsSelfDestruct(c.Op) {
		return nil, nil
	}
	return addressAt(step, beneficiaryPos)
}

// ExtractArguments runs every extractor for step. sameDepthNext may be nil.
func ExtractArguments(c opcodes.Classification, step, sameDepthNext *Step) (*Arguments, error) {
	var (
		args Arguments
		err  error
	)
	if args.CallAddress, err = CallAddress(c, step); err != nil {
		return nil, err
	}
	if args.CallData, err = CallData(c, step); err != nil {
		return nil, err
	}
	if args.CallValue, err = CallValue(c, step); err != nil {
		return nil, err
	}
	if args.CreateBinary, err = CreateBinary(c, step); err != nil {
		return nil, err
	}
	if args.CreateValue, err = CreateValue(c, step); err != nil {
		return nil, err
	}
	if args.CreateSalt, err = CreateSalt(c, step); err != nil {
		return nil, err
	}
	if args.CreatedAddress, err = CreatedAddress(c, sameDepthNext); err != nil {
		return nil, err
	}
	if args.StorageAffected, err = StorageAffected(c, step); err != nil {
		return nil, err
	}
	if args.ReturnValue, err = ReturnValue(c, step); err != nil {
		return nil, err
	}
	if args.SelfDestructBeneficiary, err = SelfDestructBeneficiary(c, step); err != nil {
		return nil, err
	}
	return &args, nil
}
