package loaders

import (
	"github.com/spaghettifunk/anima-rt/engine/core"
)

const (
	SPIRVMagic = 0x07230203
	// magic, version, generator, bound, schema
	spirvHeaderWords = 5
)

// ValidateSPIRV checks that code is a little endian SPIR-V module and
// returns its version word.
func ValidateSPIRV(code []byte) (uint32, error) {
	if len(code)%4 != 0 {
		return 0, core.Newf("spir-v module of %d bytes is not a whole number of words", len(code))
	}
	words := bytesToBytecode(code)
	if len(words) < spirvHeaderWords {
		return 0, core.Newf("spir-v module of %d words is shorter than its header", len(words))
	}
	if words[0] != SPIRVMagic {
		return 0, core.Newf("bad spir-v magic %#08x", words[0])
	}
	return words[1], nil
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = uint32(b[byteIndex]) |
			uint32(b[byteIndex+1])<<8 |
			uint32(b[byteIndex+2])<<16 |
			uint32(b[byteIndex+3])<<24
	}
	return byteCode
}
