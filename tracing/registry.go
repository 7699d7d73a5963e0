package tracing

import (
	"bytes"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ContextRegistry is the process-wide table of known contexts.
type ContextRegistry interface {
	LookupContext(id ContextID) (*Context, bool)
	ResolveContext(binary []byte) (ContextID, bool)
}

// Registry is an in-memory ContextRegistry. Binaries are matched exactly first,
// then with the compiler metadata trailer stripped, and constructor binaries
// also match when followed by ABI-encoded constructor arguments.
type Registry struct {
	mu       sync.RWMutex
	contexts map[ContextID]*Context
	order    []ContextID
	exact    map[common.Hash]ContextID
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		contexts: make(map[ContextID]*Context),
		exact:    make(map[common.Hash]ContextID),
	}
}

// BinaryContextID derives the id used for contexts registered without one.
func BinaryContextID(binary []byte) ContextID {
	return ContextID(crypto.Keccak256Hash(binary).Hex())
}

// Add registers ctx and returns its id.
func (r *Registry) Add(ctx Context) ContextID {
	if !ctx.ID.Known() {
		ctx.ID = BinaryContextID(ctx.Binary)
	}
	stored := ctx
	stored.Binary = append(hexutil.Bytes(nil), ctx.Binary...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contexts[ctx.ID]; !ok {
		r.order = append(r.order, ctx.ID)
	}
	r.contexts[ctx.ID] = &stored
	r.exact[crypto.Keccak256Hash(ctx.Binary)] = ctx.ID
	return ctx.ID
}

// Len returns the number of registered contexts
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

func (r *Registry) LookupContext(id ContextID) (*Context, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctx, ok := r.contexts[id]
	if !ok {
		return nil, false
	}
	c := *ctx
	return &c, true
}

func (r *Registry) ResolveContext(binary []byte) (ContextID, bool) {
	if len(binary) == 0 {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.exact[crypto.Keccak256Hash(binary)]; ok {
		return id, true
	}
	stripped := stripMetadata(binary)
	for _, id := range r.order {
		ctx := r.contexts[id]
		known := stripMetadata(ctx.Binary)
		if len(known) == 0 {
			continue
		}
		if bytes.Equal(known, stripped) {
			return id, true
		}
		if ctx.IsConstructor && withConstructorArgs(binary, ctx.Binary) {
			return id, true
		}
	}
	return "", false
}

// withConstructorArgs reports whether binary is known followed by whole
// 32-byte argument words.
func withConstructorArgs(binary, known []byte) bool {
	if len(binary) <= len(known) || !bytes.HasPrefix(binary, known) {
		return false
	}
	return (len(binary)-len(known))%32 == 0
}

// stripMetadata removes the CBOR metadata trailer solc appends to bytecode. The
// last two bytes hold the trailer length.
func stripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	if n == 0 || n+2 > len(code) {
		return code
	}
	// CBOR maps start with 0xa1..0xb7
	if b := code[len(code)-2-n]; b < 0xa1 || b > 0xb7 {
		return code
	}
	return code[:len(code)-2-n]
}
