package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVMTranslatorSingleFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "SimpleAdd.vm")
	source := "push constant 7\npush constant 8\nadd\n"
	if err := os.WriteFile(input, []byte(source), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	if status := Handler([]string{input}, nil); status != 0 {
		t.Fatalf("unexpected exit status code: expected 0, got %d", status)
	}

	got, err := os.ReadFile(filepath.Join(dir, "SimpleAdd.asm"))
	if err != nil {
		t.Fatalf("error reading output file: %v", err)
	}

	expected := strings.Join([]string{
		"@7", "D=A", "@SP", "M=M+1", "A=M-1", "M=D",
		"@8", "D=A", "@SP", "M=M+1", "A=M-1", "M=D",
		"@SP", "AM=M-1", "D=M", "A=A-1", "M=D+M",
	}, "\n")

	if strings.TrimSpace(string(got)) != expected {
		t.Fatalf("unexpected output:\ngot:\n%s\nwant:\n%s", got, expected)
	}
}

// A directory of .vm files gets the bootstrap sequence (SP init + a full 'call Sys.init 0')
// prepended, and output is written to '<dir>/<dirname>.asm'. The call/return ABI expansion is
// intricate enough that this test checks structure rather than a byte-exact dump.
func TestVMTranslatorDirectoryBootstrap(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "Program")
	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("error creating fixture directory: %v", err)
	}

	sys := "function Sys.init 0\ncall Main.main 0\npop temp 0\nlabel END\ngoto END\n"
	main := "function Main.main 0\npush constant 42\nreturn\n"
	if err := os.WriteFile(filepath.Join(dir, "Sys.vm"), []byte(sys), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Main.vm"), []byte(main), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	if status := Handler([]string{dir}, nil); status != 0 {
		t.Fatalf("unexpected exit status code: expected 0, got %d", status)
	}

	got, err := os.ReadFile(filepath.Join(dir, "Program.asm"))
	if err != nil {
		t.Fatalf("error reading output file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(got)), "\n")

	bootSP := []string{"@256", "D=A", "@SP", "M=D"}
	for i, want := range bootSP {
		if lines[i] != want {
			t.Fatalf("bootstrap SP init line %d: got %q, want %q", i, lines[i], want)
		}
	}

	body := strings.Join(lines, "\n")
	for _, want := range []string{"(Sys.init)", "(Main.main)", "@Sys_init$ret.0", "@Main_main$ret.", "0;JMP"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected generated asm to contain %q, full output:\n%s", want, body)
		}
	}

	// Modules are lowered in sorted name order, so 'Main.main' (declared first alphabetically
	// among the two functions) must appear before 'Sys.init' in the non-bootstrap portion.
	if strings.Index(body, "(Main.main)") > strings.Index(body, "(Sys.init)") {
		t.Fatalf("expected 'Main.main' to be lowered before 'Sys.init' (modules sorted by name)")
	}
}

func TestVMTranslatorRejectsNonVMFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "Notes.txt")
	if err := os.WriteFile(input, []byte("not a vm file"), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	if status := Handler([]string{input}, nil); status == 0 {
		t.Fatalf("expected non-zero exit status for a non-.vm input file")
	}
}
