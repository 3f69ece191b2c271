package regnum

import "fmt"

// The mapping between hardware registers and DWARF registers is specified
// in the System V ABI AMD64 Architecture Processor Supplement v. 1.0 page 61,
// figure 3.36
// https://gitlab.com/x86-psABIs/x86-64-ABI/-/tree/master

const (
	AMD64_Rax     = 0
	AMD64_Rdx     = 1
	AMD64_Rcx     = 2
	AMD64_Rbx     = 3
	AMD64_Rsi     = 4
	AMD64_Rdi     = 5
	AMD64_Rbp     = 6
	AMD64_Rsp     = 7
	AMD64_R8      = 8 // R9 through R15 follow
	AMD64_R15     = 15
	AMD64_Rip     = 16
	AMD64_XMM0    = 17 // XMM1 through XMM15 follow
	AMD64_ST0     = 33 // ST(1) through ST(7) follow
	AMD64_Rflags  = 49
	AMD64_Es      = 50
	AMD64_Cs      = 51
	AMD64_Ss      = 52
	AMD64_Ds      = 53
	AMD64_Fs      = 54
	AMD64_Gs      = 55
	AMD64_Fs_base = 58
	AMD64_Gs_base = 59
	AMD64_MXCSR   = 64
	AMD64_CW      = 65
	AMD64_SW      = 66
	AMD64_XMM16   = 67  // XMM17 through XMM31 follow
	AMD64_K0      = 118 // k1 through k7 follow
)

var amd64GeneralPurpose = [...]string{
	"rax", "rdx", "rcx", "rbx", "rsi", "rdi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

var amd64Other = map[uint64]string{
	AMD64_Rip:     "rip",
	AMD64_Rflags:  "rflags",
	AMD64_Es:      "es",
	AMD64_Cs:      "cs",
	AMD64_Ss:      "ss",
	AMD64_Ds:      "ds",
	AMD64_Fs:      "fs",
	AMD64_Gs:      "gs",
	AMD64_Fs_base: "fs_base",
	AMD64_Gs_base: "gs_base",
	AMD64_MXCSR:   "mxcsr",
	AMD64_CW:      "fcw",
	AMD64_SW:      "fsw",
}

var amd64Aliases = map[string]uint64{
	"eflags": AMD64_Rflags,
	"pc":     AMD64_Rip,
	"sp":     AMD64_Rsp,
	"fp":     AMD64_Rbp,
}

func amd64Name(num uint64) (string, bool) {
	switch {
	case num <= AMD64_R15:
		return amd64GeneralPurpose[num], true
	case num >= AMD64_XMM0 && num < AMD64_XMM0+16:
		return fmt.Sprintf("xmm%d", num-AMD64_XMM0), true
	case num >= AMD64_ST0 && num < AMD64_ST0+8:
		return fmt.Sprintf("st%d", num-AMD64_ST0), true
	case num >= AMD64_XMM16 && num < AMD64_XMM16+16:
		return fmt.Sprintf("xmm%d", num-AMD64_XMM16+16), true
	case num >= AMD64_K0 && num < AMD64_K0+8:
		return fmt.Sprintf("k%d", num-AMD64_K0), true
	}
	name, ok := amd64Other[num]
	return name, ok
}

// AMD64MaxRegNum is the highest DWARF register number with a name on amd64.
const AMD64MaxRegNum = AMD64_K0 + 7
