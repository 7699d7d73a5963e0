package tracing

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	addrC = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	codeB = common.FromHex("0x6080604052348015600f57600080fd5b50")
	codeA = common.FromHex("0x60806040526004361060")
)

// stackOf builds a stack from words listed top first.
func stackOf(topFirst ...string) []string {
	out := make([]string, len(topFirst))
	for i, w := range topFirst {
		out[len(topFirst)-1-i] = w
	}
	return out
}

// memoryOf chunks hex into 32-byte words, zero padding the last one.
func memoryOf(hex string) []string {
	if rem := len(hex) % 64; rem != 0 {
		hex += strings.Repeat("0", 64-rem)
	}
	var words []string
	for i := 0; i < len(hex); i += 64 {
		words = append(words, hex[i:i+64])
	}
	return words
}

func step(op string, depth int, stack []string) Step {
	return Step{Op: op, Depth: depth, Stack: stack}
}

func testTransaction() *Transaction {
	return &Transaction{
		Sender: common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		To:     &addrA,
		Status: true,
		Codes: map[common.Address][]byte{
			addrA: codeA,
			addrB: codeB,
		},
	}
}
