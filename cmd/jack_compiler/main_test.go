package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestJackCompilerSingleClass(t *testing.T) {
	dir := t.TempDir()
	source := `
class Main {
    function void main() {
        do Output.printInt(1 + 2);
        return;
    }
}
`
	input := filepath.Join(dir, "Main.jack")
	if err := os.WriteFile(input, []byte(source), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	status := Handler([]string{input}, map[string]string{"stdlib": "true"})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0, got %d", status)
	}

	got, err := os.ReadFile(filepath.Join(dir, "Main.vm"))
	if err != nil {
		t.Fatalf("error reading output file: %v", err)
	}

	expected := strings.Join([]string{
		"function Main.main 0",
		"push constant 1",
		"push constant 2",
		"add",
		"call Output.printInt 1",
		"pop temp 0",
		"push constant 0",
		"return",
	}, "\n")

	if strings.TrimSpace(string(got)) != expected {
		t.Fatalf("unexpected output:\ngot:\n%s\nwant:\n%s", got, expected)
	}
}

func TestJackCompilerMultiClassDirectory(t *testing.T) {
	dir := t.TempDir()

	point := `
class Point {
    field int x, y;

    constructor Point new(int ax, int ay) {
        let x = ax;
        let y = ay;
        return this;
    }

    method int getX() {
        return x;
    }
}
`
	main := `
class Main {
    function void main() {
        var Point p;
        let p = Point.new(1, 2);
        do Main.use(p);
        return;
    }

    function void use(Point p) {
        return;
    }
}
`
	if err := os.WriteFile(filepath.Join(dir, "Point.jack"), []byte(point), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Main.jack"), []byte(main), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	status := Handler([]string{dir}, map[string]string{"stdlib": "true"})
	if status != 0 {
		t.Fatalf("unexpected exit status code: expected 0, got %d", status)
	}

	pointVM, err := os.ReadFile(filepath.Join(dir, "Point.vm"))
	if err != nil {
		t.Fatalf("error reading Point.vm: %v", err)
	}
	for _, want := range []string{"function Point.new 0", "call Memory.alloc 1", "pop pointer 0", "function Point.getX 0"} {
		if !strings.Contains(string(pointVM), want) {
			t.Fatalf("expected Point.vm to contain %q, got:\n%s", want, pointVM)
		}
	}

	mainVM, err := os.ReadFile(filepath.Join(dir, "Main.vm"))
	if err != nil {
		t.Fatalf("error reading Main.vm: %v", err)
	}
	for _, want := range []string{"function Main.main 1", "call Point.new 2", "call Main.use 1"} {
		if !strings.Contains(string(mainVM), want) {
			t.Fatalf("expected Main.vm to contain %q, got:\n%s", want, mainVM)
		}
	}
}

func TestJackCompilerTypecheckRejectsUnknownVariable(t *testing.T) {
	dir := t.TempDir()
	source := `
class Main {
    function void main() {
        let x = 1;
        return;
    }
}
`
	input := filepath.Join(dir, "Main.jack")
	if err := os.WriteFile(input, []byte(source), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	status := Handler([]string{input}, map[string]string{"typecheck": "true"})
	if status == 0 {
		t.Fatalf("expected non-zero exit status for an assignment to an undeclared variable")
	}
}

func TestJackCompilerRejectsNonJackFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "Notes.txt")
	if err := os.WriteFile(input, []byte("not jack source"), 0644); err != nil {
		t.Fatalf("error writing fixture: %v", err)
	}

	if status := Handler([]string{input}, nil); status == 0 {
		t.Fatalf("expected non-zero exit status for a non-.jack input file")
	}
}
