package asm

import (
	"fmt"
	"strconv"
	"strings"

	"hmny.dev/nand2tetris/pkg/hack"
)

// ----------------------------------------------------------------------------
// Disassembler

// Inverts 'hack.CodeGenerator': given the binary lines a CodeGenerator/Translate pass
// produced, reconstruct the 'asm.Program' they were lowered from. Labels are lost during
// lowering (resolved to raw addresses) so disassembly never recovers 'LabelDecl's or the
// original symbolic names of A Instructions, only their numeric form; this is enough to
// exercise the assembler round-trip property (assemble, disassemble, reassemble, compare
// binary output) without claiming to recover the original source text.
var (
	// 'hack.CompTable' packs both comp families (classic '111'-prefixed and shift
	// '101'-prefixed) into one map, and some raw 7 bit codes collide across the two
	// (e.g. "A" and "D<<" both encode 0b0110000); reversing the merged table would make
	// the lookup pick a nondeterministic winner. Split by family before reversing, and
	// pick the right reverse table off the instruction's own prefix bit at lookup time.
	reverseComp      = reverseTable(splitComp(false))
	reverseShiftComp = reverseTable(splitComp(true))
	reverseDest      = reverseTable(hack.DestTable)
	reverseJump      = reverseTable(hack.JumpTable)
)

func splitComp(shift bool) map[string]uint16 {
	split := make(map[string]uint16)
	for mnemonic, opcode := range hack.CompTable {
		if isShiftComp[mnemonic] == shift {
			split[mnemonic] = opcode
		}
	}
	return split
}

// Mirrors the unexported 'shiftComps' set in pkg/hack/codegen.go.
var isShiftComp = map[string]bool{
	"D<<": true, "A<<": true, "M<<": true,
	"D>>": true, "A>>": true, "M>>": true,
}

func reverseTable(table map[string]uint16) map[uint16]string {
	reversed := make(map[uint16]string, len(table))
	for mnemonic, opcode := range table {
		reversed[opcode] = mnemonic
	}
	return reversed
}

// Disassemble parses '.hack' binary lines (16 chars of '0'/'1' each) back into an
// 'asm.Program'. Returns an error on malformed input (wrong width, non-binary digits).
func Disassemble(lines []string) (Program, error) {
	program := make(Program, 0, len(lines))

	for n, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		word, err := strconv.ParseUint(line, 2, 16)
		if err != nil {
			return nil, fmt.Errorf("line %d: %q is not a 16 bit binary instruction: %w", n+1, line, err)
		}

		if word&(1<<15) == 0 {
			program = append(program, AInstruction{Location: strconv.FormatUint(word, 10)})
			continue
		}

		inst, err := disassembleCInst(uint16(word))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		program = append(program, inst)
	}

	return program, nil
}

func disassembleCInst(word uint16) (CInstruction, error) {
	comps := reverseComp
	if (word>>13)&0b111 == 0b101 {
		comps = reverseShiftComp
	}

	comp, found := comps[(word>>6)&0b1111111]
	if !found {
		return CInstruction{}, fmt.Errorf("unknown 'comp' bit-code in instruction %016b", word)
	}
	dest, found := reverseDest[(word>>3)&0b111]
	if !found {
		return CInstruction{}, fmt.Errorf("unknown 'dest' bit-code in instruction %016b", word)
	}
	jump, found := reverseJump[word&0b111]
	if !found {
		return CInstruction{}, fmt.Errorf("unknown 'jump' bit-code in instruction %016b", word)
	}

	if dest == "" && jump == "" {
		return CInstruction{}, fmt.Errorf("instruction %016b has neither a 'dest' nor a 'jump' part", word)
	}

	return CInstruction{Comp: comp, Dest: dest, Jump: jump}, nil
}
