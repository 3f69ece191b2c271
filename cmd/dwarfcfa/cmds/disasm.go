package cmds

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

const maxInstructionLength = 15

// disassemble decodes the first instruction of code, located at pc.
func disassemble(arch string, code []byte, pc uint64) (string, error) {
	switch arch {
	case "amd64", "386":
		mode := 64
		if arch == "386" {
			mode = 32
		}
		inst, err := x86asm.Decode(code, mode)
		if err != nil {
			return "", err
		}
		return x86asm.GNUSyntax(inst, pc, noSymbols), nil
	case "arm64":
		inst, err := arm64asm.Decode(code)
		if err != nil {
			return "", err
		}
		return arm64asm.GNUSyntax(inst), nil
	}
	return "", fmt.Errorf("disassembly not supported on %s", arch)
}

func noSymbols(uint64) (string, uint64) {
	return "", 0
}
