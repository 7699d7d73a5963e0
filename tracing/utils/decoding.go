package utils

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// WordHexLength is the number of hex characters in a 32-byte stack word.
const WordHexLength = 2 * 32

// NormalizeWord strips an optional 0x prefix and left-pads the word to 32 bytes.
// Traces from newer clients emit compact words ("0x5"), older ones full-width words.
func NormalizeWord(word string) (string, error) {
	w := strings.TrimPrefix(strings.TrimPrefix(word, "0x"), "0X")
	if len(w) > WordHexLength {
		return "", NewError(ErrorTypeDecoding, "stack word wider than 32 bytes").
			AddContext("word", word)
	}
	if _, err := hexutil.Decode("0x" + evenLength(w)); err != nil && w != "" {
		return "", WrapError(ErrorTypeDecoding, "stack word is not hex", err).
			AddContext("word", word)
	}
	return strings.Repeat("0", WordHexLength-len(w)) + strings.ToLower(w), nil
}

func evenLength(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}

// HexToAddress converts a stack word to an address using its low 20 bytes.
func HexToAddress(word string) (common.Address, error) {
	w, err := NormalizeWord(word)
	if err != nil {
		return common.Address{}, err
	}
	return common.HexToAddress(w), nil
}

// HexToUint256 parses a stack word as an unsigned 256-bit integer.
func HexToUint256(word string) (*uint256.Int, error) {
	w, err := NormalizeWord(word)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimLeft(w, "0")
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromHex("0x" + trimmed)
	if err != nil {
		return nil, WrapError(ErrorTypeDecoding, "invalid stack word", err).
			AddContext("word", word)
	}
	return v, nil
}

// HexToUnsignedBigInt parses a stack word as an unsigned big integer.
func HexToUnsignedBigInt(word string) (*big.Int, error) {
	v, err := HexToUint256(word)
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

// IsZeroWord reports whether the word encodes zero.
func IsZeroWord(word string) bool {
	v, err := HexToUint256(word)
	return err == nil && v.IsZero()
}

// MemoryImage joins the word-chunked memory of a step into one hex string in
// which every byte occupies two characters.
func MemoryImage(memory []string) string {
	var b strings.Builder
	for _, chunk := range memory {
		b.WriteString(strings.TrimPrefix(chunk, "0x"))
	}
	return b.String()
}

// MemorySlice reads length bytes at offset from a memory image. Offset and length
// are stack words. A slice reaching past the image is an error, never a silent
// empty result.
func MemorySlice(image string, offsetWord, lengthWord string) (string, error) {
	offset, err := HexToUint256(offsetWord)
	if err != nil {
		return "", err
	}
	length, err := HexToUint256(lengthWord)
	if err != nil {
		return "", err
	}
	if length.IsZero() {
		return "", nil
	}
	end, overflow := new(uint256.Int).AddOverflow(offset, length)
	if overflow || !end.IsUint64() || end.Uint64() > uint64(len(image)/2) {
		return "", NewOutOfRangeSliceError(offsetWord, lengthWord, len(image)/2)
	}
	start, stop := offset.Uint64()*2, end.Uint64()*2
	return image[start:stop], nil
}
