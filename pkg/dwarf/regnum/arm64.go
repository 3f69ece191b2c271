package regnum

import "fmt"

// The mapping between hardware registers and DWARF registers is specified
// in the DWARF for the ARM® Architecture page 7,
// Table 1
// http://infocenter.arm.com/help/topic/com.arm.doc.ihi0040b/IHI0040B_aadwarf.pdf

const (
	ARM64_X0 = 0  // X1 through X30 follow
	ARM64_BP = 29 // also X29
	ARM64_LR = 30 // also X30
	ARM64_SP = 31
	ARM64_PC = 32
	ARM64_V0 = 64 // V1 through V31 follow
)

var arm64Aliases = map[string]uint64{
	"fp": ARM64_BP,
	"lr": ARM64_LR,
}

func arm64Name(num uint64) (string, bool) {
	switch {
	case num <= ARM64_LR:
		return fmt.Sprintf("x%d", num), true
	case num == ARM64_SP:
		return "sp", true
	case num == ARM64_PC:
		return "pc", true
	case num >= ARM64_V0 && num < ARM64_V0+32:
		return fmt.Sprintf("v%d", num-ARM64_V0), true
	}
	return "", false
}

// ARM64MaxRegNum is the highest DWARF register number with a name on arm64.
const ARM64MaxRegNum = ARM64_V0 + 31
