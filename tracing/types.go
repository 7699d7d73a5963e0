package tracing

import (
	"maps"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/DQYXACML/tracecodex/tracing/utils"
)

// Step is one instruction execution record as emitted by the struct logger.
// The stack top is the last element. Memory is the linear memory image chunked
// into hex words.
type Step struct {
	Op      string            `json:"op"`
	Pc      uint64            `json:"pc"`
	Gas     uint64            `json:"gas"`
	GasCost uint64            `json:"gasCost"`
	Depth   int               `json:"depth"`
	Stack   []string          `json:"stack"`
	Memory  []string          `json:"memory"`
	Storage map[string]string `json:"storage"`
	Error   string            `json:"error,omitempty"`
}

// Back returns the stack word n slots below the top (n == 0 is the top).
func (s *Step) Back(n int) (string, error) {
	if n < 0 || n >= len(s.Stack) {
		return "", utils.NewMalformedStepError(s.Op, "stack too shallow for opcode").
			AddContext("pc", s.Pc).
			AddContext("wanted", n+1).
			AddContext("stack_len", len(s.Stack))
	}
	return s.Stack[len(s.Stack)-1-n], nil
}

// MemoryImage returns the memory as one hex string, two characters per byte.
func (s *Step) MemoryImage() string {
	return utils.MemoryImage(s.Memory)
}

// StorageMap decodes the raw storage of the step.
func (s *Step) StorageMap() Storage {
	out := make(Storage, len(s.Storage))
	for k, v := range s.Storage {
		out[common.HexToHash(k)] = common.HexToHash(v)
	}
	return out
}

// Storage represents a contract's storage.
type Storage map[common.Hash]common.Hash

// Copy duplicates the current storage.
func (s Storage) Copy() Storage {
	if s == nil {
		return Storage{}
	}
	return maps.Clone(s)
}

// ContextID identifies a known context in the registry. The empty id means none.
type ContextID string

// Known reports whether the id refers to a registry entry.
func (id ContextID) Known() bool { return id != "" }

// Context describes the code executing in a frame. RegistryBinary holds the
// registry's own binary for the matched entry; Binary is always the code that
// actually runs, so both survive resolution.
type Context struct {
	ID             ContextID     `json:"contextId,omitempty" yaml:"id"`
	Name           string        `json:"name,omitempty" yaml:"name"`
	Binary         hexutil.Bytes `json:"binary" yaml:"binary"`
	RegistryBinary hexutil.Bytes `json:"registryBinary,omitempty" yaml:"-"`
	IsConstructor  bool          `json:"isConstructor" yaml:"isConstructor"`
	Compiler       string        `json:"compiler,omitempty" yaml:"compiler"`
}

// CallFrame is one entry of the live call stack. Address is nil while a
// constructor runs; StorageAddress is the account whose storage the frame uses.
type CallFrame struct {
	Address        *common.Address `json:"address,omitempty"`
	Binary         hexutil.Bytes   `json:"binary"`
	StorageAddress common.Address  `json:"storageAddress"`
	Context        ContextID       `json:"context,omitempty"`
	Sender         common.Address  `json:"sender"`
	Value          *big.Int        `json:"value,omitempty"`
	Data           hexutil.Bytes   `json:"data,omitempty"`
	IsCreate       bool            `json:"isCreate"`
}

func (f *CallFrame) copy() *CallFrame {
	if f == nil {
		return nil
	}
	c := *f
	if f.Address != nil {
		addr := *f.Address
		c.Address = &addr
	}
	if f.Value != nil {
		c.Value = new(big.Int).Set(f.Value)
	}
	return &c
}

// AccountSnapshot is an account as recorded when a frame was entered.
type AccountSnapshot struct {
	Code    hexutil.Bytes `json:"code"`
	Context ContextID     `json:"context,omitempty"`
	Storage Storage       `json:"storage"`
}

func (a *AccountSnapshot) clone() *AccountSnapshot {
	return &AccountSnapshot{
		Code:    a.Code,
		Context: a.Context,
		Storage: a.Storage.Copy(),
	}
}

// CodexEntry is a full snapshot of every tracked account taken when the call
// stack reached Depth. Entries are never modified once recorded.
type CodexEntry struct {
	Depth    int                                  `json:"depth"`
	Accounts map[common.Address]*AccountSnapshot `json:"accounts"`
}

func (e *CodexEntry) clone(depth int) *CodexEntry {
	accounts := make(map[common.Address]*AccountSnapshot, len(e.Accounts))
	for addr, acct := range e.Accounts {
		accounts[addr] = acct.clone()
	}
	return &CodexEntry{Depth: depth, Accounts: accounts}
}

// Instance is the address-keyed projection of a codex account.
type Instance struct {
	Code    hexutil.Bytes `json:"code"`
	Context ContextID     `json:"context,omitempty"`
}

// Globals are transaction and block values passed through untouched.
type Globals struct {
	Origin      common.Address `json:"origin"`
	GasPrice    *big.Int       `json:"gasPrice,omitempty"`
	ChainID     *big.Int       `json:"chainId,omitempty"`
	BlockNumber *big.Int       `json:"blockNumber,omitempty"`
	Coinbase    common.Address `json:"coinbase"`
	Timestamp   uint64         `json:"timestamp"`
	Difficulty  *big.Int       `json:"difficulty,omitempty"`
	GasLimit    uint64         `json:"gasLimit"`
	BaseFee     *big.Int       `json:"baseFee,omitempty"`
}

// Transaction carries the metadata of the traced transaction that the
// reconstruction reads but never computes.
type Transaction struct {
	Hash            common.Hash
	Sender          common.Address
	To              *common.Address
	Value           *big.Int
	Input           hexutil.Bytes
	Status          bool
	ContractAddress *common.Address
	Globals         Globals

	// Codes holds the code of accounts touched by the transaction.
	Codes map[common.Address][]byte
}

// FinalStatus is the receipt status of the transaction.
func (tx *Transaction) FinalStatus() bool {
	return tx.Status
}

// CodeAt returns the prefetched code of addr.
func (tx *Transaction) CodeAt(addr common.Address) ([]byte, bool) {
	code, ok := tx.Codes[addr]
	return code, ok && len(code) > 0
}
