package asm_test

import (
	"testing"

	"hmny.dev/nand2tetris/pkg/asm"
	"hmny.dev/nand2tetris/pkg/hack"
)

// Assembles a small asm.Program all the way to binary, disassembles the binary back into
// an asm.Program and reassembles it, then checks the two binary dumps are identical. Labels
// are already resolved to raw addresses by the time 'hack.CodeGenerator' runs, so disassembly
// never needs to (nor can it) recover the original symbolic names, only this round trip.
func TestAssemblerRoundTrip(t *testing.T) {
	lowerer := asm.NewLowerer(asm.Program{
		asm.AInstruction{Location: "0"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.LabelDecl{Name: "LOOP"},
		asm.AInstruction{Location: "0"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "END"},
		asm.CInstruction{Comp: "D", Jump: "JGT"},
		asm.AInstruction{Location: "0"},
		asm.CInstruction{Dest: "M", Comp: "M+1", Jump: "JGT"}, // combined dest and jump
		asm.AInstruction{Location: "LOOP"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		asm.LabelDecl{Name: "END"},
		asm.AInstruction{Location: "SCREEN"},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D<<"},
	})

	program, table, err := lowerer.Lower()
	if err != nil {
		t.Fatalf("unexpected error lowering fixture: %v", err)
	}

	original := hack.NewCodeGenerator(program, table)
	originalBinary, err := original.Translate()
	if err != nil {
		t.Fatalf("unexpected error translating fixture: %v", err)
	}

	disassembled, err := asm.Disassemble(originalBinary)
	if err != nil {
		t.Fatalf("unexpected error disassembling: %v", err)
	}

	// The disassembled program only contains A/C instructions (no labels survive lowering),
	// so it is already in 'hack'-ready shape: lower it again (a no-op lowering, since there
	// are no more labels or builtins to resolve) before regenerating binary from it.
	relowered, retable, err := asm.NewLowerer(disassembled).Lower()
	if err != nil {
		t.Fatalf("unexpected error re-lowering disassembled program: %v", err)
	}

	roundTripped, err := hack.NewCodeGenerator(relowered, retable).Translate()
	if err != nil {
		t.Fatalf("unexpected error re-translating disassembled program: %v", err)
	}

	if len(roundTripped) != len(originalBinary) {
		t.Fatalf("round trip produced %d instructions, want %d", len(roundTripped), len(originalBinary))
	}
	for i := range originalBinary {
		if roundTripped[i] != originalBinary[i] {
			t.Fatalf("instruction %d: got %s, want %s", i, roundTripped[i], originalBinary[i])
		}
	}
}

// Locks in the combined dest+jump fix directly: "M=D+1;JGT" (dest '001', comp
// 'D+1' = '0011111', jump '001') assembles to "1110011111001001", and disassembling
// it back must produce a single CInstruction carrying all three parts, not drop one.
func TestDisassembleCombinedDestAndJump(t *testing.T) {
	program, err := asm.Disassemble([]string{"1110011111001001"})
	if err != nil {
		t.Fatalf("unexpected error disassembling: %v", err)
	}
	if len(program) != 1 {
		t.Fatalf("expected exactly 1 instruction, got %d", len(program))
	}

	want := asm.CInstruction{Comp: "D+1", Dest: "M", Jump: "JGT"}
	if got := program[0]; got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestDisassembleRejectsMalformedInput(t *testing.T) {
	if _, err := asm.Disassemble([]string{"not binary"}); err == nil {
		t.Fatal("expected an error disassembling a non-binary line")
	}
	if _, err := asm.Disassemble([]string{"1111111111111111"}); err == nil {
		t.Fatal("expected an error disassembling a C instruction with an unknown 'comp' bit-code")
	}
}
