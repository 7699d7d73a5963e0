package tracing

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"

	"github.com/DQYXACML/tracecodex/tracing/utils"
)

// ContextResolver determines which context a call frame is executing.
type ContextResolver struct {
	registry ContextRegistry
}

// NewContextResolver creates a resolver backed by registry
func NewContextResolver(registry ContextRegistry) *ContextResolver {
	return &ContextResolver{registry: registry}
}

// Resolve returns the context of frame. Frames with an address use the context
// fixed in the codex when the account was recorded; only constructor frames
// are searched by binary. A nil frame (no transaction loaded) yields nil.
func (r *ContextResolver) Resolve(frame *CallFrame, instances map[common.Address]Instance) *Context {
	if frame == nil {
		return nil
	}
	if frame.Address != nil {
		inst, ok := instances[*frame.Address]
		if !ok {
			// the codex records every called account, so this is a bare frame
			inst = Instance{Code: frame.Binary, Context: frame.Context}
		}
		return r.fromID(inst.Context, inst.Code, false)
	}
	if len(frame.Binary) == 0 {
		return nil
	}
	id, _ := r.registry.ResolveContext(frame.Binary)
	return r.fromID(id, frame.Binary, true)
}

// fromID merges the registry entry for id with the running binary, or
// synthesizes a context when id is unknown.
func (r *ContextResolver) fromID(id ContextID, binary hexutil.Bytes, constructor bool) *Context {
	if id.Known() {
		if known, ok := r.registry.LookupContext(id); ok {
			known.RegistryBinary = known.Binary
			known.Binary = binary
			return known
		}
	}
	log.Debug("Synthesizing context", "constructor", constructor, "err", utils.NewUnresolvedContextError(len(binary)))
	return &Context{Binary: binary, IsConstructor: constructor}
}

// ResolveID searches the registry for binary, returning the empty id when
// nothing matches.
func (r *ContextResolver) ResolveID(binary []byte) ContextID {
	id, ok := r.registry.ResolveContext(binary)
	if !ok {
		return ""
	}
	return id
}
