package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/teris-io/cli"
	"hmny.dev/nand2tetris/pkg/asm"
	"hmny.dev/nand2tetris/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	WithArg(cli.NewArg("path", "The bytecode (.vm) file or directory to be compiled").
		WithType(cli.TypeString)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) != 1 {
		fmt.Printf("ERROR: Expected exactly one argument (a file or a directory), use --help\n")
		return -1
	}

	inputs, outputPath, bootstrap, err := resolveInputs(args[0])
	if err != nil {
		fmt.Printf("ERROR: %s\n", err)
		return -1
	}

	output, err := os.Create(outputPath)
	if err != nil {
		fmt.Printf("ERROR: Unable to open output file: %s\n", err)
		return -1
	}
	defer output.Close()

	// Allocates a 'vm.Program' struct to save all the parsed translation unit
	// (the .vm files) that will be parsed and lowered independently and then
	// sent to the codegen phases (that will create a monolithic compiled output).
	program := vm.Program{}

	for _, input := range inputs {
		content, err := os.ReadFile(input)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		// Instantiate a parser for the Vm program
		parser := vm.NewParser(bytes.NewReader(content))
		// Parses the input file content and extract an AST (as a 'vm.Module') from it.
		module, err := parser.Parse()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'parsing' pass: %s\n", err)
			return -1
		}

		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		program[stem] = module
	}

	// Instantiate a lowerer to convert the program from Vm to Asm
	lowerer := vm.NewLowerer(program)
	// Lowers the vm.Program to an in-memory/IR representation of its Asm counterpart 'asm.Program'.
	asmProgram, err := lowerer.Lower()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'lowering' pass: %s\n", err)
		return -1
	}

	// Directory-mode programs get the bootstrap sequence prepended: the Stack Pointer is
	// set to its base location (RAM[256]) and Sys.init is invoked through the regular
	// function-call ABI (rather than a bare jump), so it behaves like any other call.
	if bootstrap {
		bootSP := []asm.Instruction{
			asm.AInstruction{Location: "256"},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}

		bootCallLowerer := vm.NewLowerer(vm.Program{"Bootstrap": vm.Module{vm.FuncCallOp{Name: "Sys.init", NArgs: 0}}})
		bootCall, err := bootCallLowerer.Lower()
		if err != nil {
			fmt.Printf("ERROR: Unable to lower bootstrap sequence: %s\n", err)
			return -1
		}

		prefix := append(bootSP, bootCall...)
		asmProgram = append(prefix, asmProgram...)
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	for _, comp := range compiled {
		line := fmt.Sprintf("%s\n", comp)
		output.Write([]byte(line))
	}

	return 0
}

// resolveInputs normalizes the CLI's single path argument into the ordered list of
// '.vm' files to translate, the output path to write, and whether the bootstrap
// sequence should be prepended (directory mode only, never for a single file).
func resolveInputs(path string) (inputs []string, output string, bootstrap bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, "", false, fmt.Errorf("unable to stat '%s': %w", path, err)
	}

	if !info.IsDir() {
		if !strings.EqualFold(filepath.Ext(path), ".vm") {
			return nil, "", false, fmt.Errorf("'%s' is not a .vm file", path)
		}
		stem := strings.TrimSuffix(path, filepath.Ext(path))
		return []string{path}, stem + ".asm", false, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, "", false, fmt.Errorf("unable to read directory '%s': %w", path, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".vm") {
			continue
		}
		inputs = append(inputs, filepath.Join(path, entry.Name()))
	}
	sort.Strings(inputs)

	if len(inputs) == 0 {
		return nil, "", false, fmt.Errorf("no .vm files found in directory '%s'", path)
	}

	base := filepath.Base(strings.TrimRight(path, string(os.PathSeparator)))
	return inputs, filepath.Join(path, base+".asm"), true, nil
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
