package vm

import (
	"fmt"
	"sort"
	"strings"

	"hmny.dev/nand2tetris/pkg/asm"
)

// ----------------------------------------------------------------------------
// Vm Lowerer

// The Lowerer takes a 'vm.Program' (one Module per source file) and produces its
// 'asm.Program' counterpart, ready for the Asm code generator.
//
// Since a 'vm.Module' is a flat list of operations the lowering itself is a simple
// linear walk, one operation at a time, each expanded into a handful of Asm
// instructions. The only state threaded across operations is a monotonically
// increasing comparison-label counter (so repeated 'eq'/'gt'/'lt' don't collide),
// a call-site counter (so repeated 'call's mint distinct return labels) and the
// name of the function currently being lowered (so 'label'/'goto' can be qualified
// per spec, e.g. 'Foo.bar$LOOP').
type Lowerer struct {
	program Program

	comparisonCounter uint64
	callCounter       uint64

	currentFunc string
}

// Initializes and returns to the caller a brand new 'Lowerer' struct.
func NewLowerer(p Program) Lowerer {
	return Lowerer{program: p}
}

// Triggers the lowering process. Modules are visited in sorted key order so that
// the comparison/call counters (and therefore every minted label) are reproducible
// across runs regardless of map iteration order.
func (l *Lowerer) Lower() (asm.Program, error) {
	if len(l.program) == 0 {
		return nil, fmt.Errorf("the given 'program' is empty")
	}

	modNames := make([]string, 0, len(l.program))
	for name := range l.program {
		modNames = append(modNames, name)
	}
	sort.Strings(modNames)

	program := asm.Program{}
	for _, modName := range modNames {
		for _, operation := range l.program[modName] {
			lowered, err := l.lowerOperation(modName, operation)
			if err != nil {
				return nil, fmt.Errorf("module '%s': %w", modName, err)
			}
			program = append(program, lowered...)
		}
	}

	return program, nil
}

func (l *Lowerer) lowerOperation(module string, operation Operation) ([]asm.Instruction, error) {
	switch op := operation.(type) {
	case MemoryOp:
		return l.lowerMemoryOp(module, op)
	case ArithmeticOp:
		return l.lowerArithmeticOp(op)
	case LabelDecl:
		return l.lowerLabelDecl(op)
	case GotoOp:
		return l.lowerGotoOp(op)
	case FuncDecl:
		return l.lowerFuncDecl(op)
	case FuncCallOp:
		return l.lowerFuncCallOp(op)
	case ReturnOp:
		return l.lowerReturnOp()
	default:
		return nil, fmt.Errorf("unrecognized operation '%T'", operation)
	}
}

// ----------------------------------------------------------------------------
// Memory Op (push/pop)

// Each named segment resolves to either a base register to be indexed through
// (local/argument/this/that), a direct RAM offset (temp, static), a fixed bit
// (pointer) or a virtual segment with no backing storage (constant).
func (l *Lowerer) lowerMemoryOp(module string, op MemoryOp) ([]asm.Instruction, error) {
	addr, err := resolveAddress(module, op.Segment, op.Offset)
	if err != nil {
		return nil, err
	}

	switch op.Operation {
	case Push:
		return concat(addr.loadIntoD(), pushD()), nil
	case Pop:
		// For indirect (base-register) segments the effective address must be
		// precomputed into R13 before the stack decrement, else popping into the
		// segment itself could clobber the very address we're about to write to.
		if addr.indirect {
			return concat(addr.computeIntoR13(), popIntoD(), storeDAtR13()), nil
		}
		return concat(popIntoD(), addr.storeD()), nil
	default:
		return nil, fmt.Errorf("unrecognized MemoryOp operation '%s'", op.Operation)
	}
}

// segmentAddress abstracts over the different ways a VM segment reaches a RAM cell.
type segmentAddress struct {
	indirect bool   // true if this is 'base register + offset' (local/argument/this/that)
	base     string // the base register's Asm symbol, only meaningful when indirect
	offset   uint16 // the offset from base, or the direct RAM address otherwise
	direct   string // the direct Asm location (e.g. 'R7', 'Foo.3'), only meaningful when !indirect
	constant bool   // true only for the 'constant' segment, a pure value with no storage
}

func resolveAddress(module string, segment SegmentType, offset uint16) (segmentAddress, error) {
	switch segment {
	case Constant:
		return segmentAddress{constant: true, offset: offset}, nil
	case Local:
		return segmentAddress{indirect: true, base: "LCL", offset: offset}, nil
	case Argument:
		return segmentAddress{indirect: true, base: "ARG", offset: offset}, nil
	case This:
		return segmentAddress{indirect: true, base: "THIS", offset: offset}, nil
	case That:
		return segmentAddress{indirect: true, base: "THAT", offset: offset}, nil
	case Temp:
		if offset > 7 {
			return segmentAddress{}, fmt.Errorf("invalid 'temp' offset, got %d", offset)
		}
		return segmentAddress{direct: fmt.Sprintf("R%d", 5+offset)}, nil
	case Pointer:
		if offset > 1 {
			return segmentAddress{}, fmt.Errorf("invalid 'pointer' offset, got %d", offset)
		}
		if offset == 0 {
			return segmentAddress{direct: "THIS"}, nil
		}
		return segmentAddress{direct: "THAT"}, nil
	case Static:
		return segmentAddress{direct: fmt.Sprintf("%s.%d", module, offset)}, nil
	default:
		return segmentAddress{}, fmt.Errorf("unrecognized segment '%s'", segment)
	}
}

// loadIntoD emits the instructions to leave the segment's value in the D register.
func (a segmentAddress) loadIntoD() []asm.Instruction {
	if a.constant {
		return []asm.Instruction{
			asm.AInstruction{Location: fmt.Sprint(a.offset)},
			asm.CInstruction{Dest: "D", Comp: "A"},
		}
	}
	if a.indirect {
		return concat(a.loadAddressIntoA(), []asm.Instruction{
			asm.CInstruction{Dest: "D", Comp: "M"},
		})
	}
	return []asm.Instruction{
		asm.AInstruction{Location: a.direct},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// storeD emits the instructions to store the D register into the segment (direct only).
func (a segmentAddress) storeD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: a.direct},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// computeIntoR13 leaves the indirect segment's effective address (not its value) in R13.
func (a segmentAddress) computeIntoR13() []asm.Instruction {
	return concat(a.loadAddressIntoA(), []asm.Instruction{
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	})
}

// loadAddressIntoA computes 'base+offset' and leaves it in the A register.
func (a segmentAddress) loadAddressIntoA() []asm.Instruction {
	if a.offset == 0 {
		return []asm.Instruction{
			asm.AInstruction{Location: a.base},
			asm.CInstruction{Dest: "A", Comp: "M"},
		}
	}
	return []asm.Instruction{
		asm.AInstruction{Location: fmt.Sprint(a.offset)},
		asm.CInstruction{Dest: "D", Comp: "A"},
		asm.AInstruction{Location: a.base},
		asm.CInstruction{Dest: "A", Comp: "D+M"},
	}
}

// ----------------------------------------------------------------------------
// Stack primitives shared by every lowering helper

// pushD appends D to the top of the stack and advances SP.
func pushD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "M+1"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

// popIntoD decrements SP and leaves the popped value in D.
func popIntoD() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
	}
}

// storeDAtR13 writes D to the RAM cell addressed by R13 (used to finish an indirect pop).
func storeDAtR13() []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}
}

func concat(lists ...[]asm.Instruction) []asm.Instruction {
	out := []asm.Instruction{}
	for _, list := range lists {
		out = append(out, list...)
	}
	return out
}

// ----------------------------------------------------------------------------
// Arithmetic Op

func (l *Lowerer) lowerArithmeticOp(op ArithmeticOp) ([]asm.Instruction, error) {
	switch op.Operation {
	case Add:
		return lowerBinary("D+M"), nil
	case Sub:
		return lowerBinary("M-D"), nil
	case And:
		return lowerBinary("D&M"), nil
	case Or:
		return lowerBinary("D|M"), nil
	case Neg:
		return lowerUnary("-M"), nil
	case Not:
		return lowerUnary("!M"), nil
	case Shl:
		return lowerUnary("M<<"), nil
	case Shr:
		return lowerUnary("M>>"), nil
	case Eq, Gt, Lt:
		return l.lowerComparison(op.Operation)
	default:
		return nil, fmt.Errorf("unrecognized ArithmeticOp operation '%s'", op.Operation)
	}
}

// lowerBinary pops y into D, then combines it with the new top-of-stack x in-place,
// leaving the result as the new top (net one SP decrement). 'comp' refers to D (the
// second/rightmost operand, y) and M (the first/leftmost one, x).
func lowerBinary(comp string) []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.CInstruction{Dest: "A", Comp: "A-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}
}

// lowerUnary transforms the top-of-stack in place, no SP change.
func lowerUnary(comp string) []asm.Instruction {
	return []asm.Instruction{
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: comp},
	}
}

// lowerComparison implements the overflow-safe eq/gt/lt policy: subtracting two 16-bit
// numbers of opposite sign can overflow, so the direct-subtraction sign check is only
// trusted when both operands share a sign; otherwise the answer is the sign of x alone.
//
// The two operands are copied into R13 (x) and R14 (y) before the stack is touched any
// further, so both original signs stay available no matter which branch is taken.
func (l *Lowerer) lowerComparison(op ArithOpType) ([]asm.Instruction, error) {
	var jumpOnDiff string   // mnemonic used on D=x-y when signs match
	var jumpOnXSign string  // mnemonic used on D=x when signs differ (decided by sign of x alone)
	switch op {
	case Eq:
		jumpOnDiff, jumpOnXSign = "JEQ", "" // opposite-sign operands can never be equal unless both are 0, which is same-sign
	case Gt:
		jumpOnDiff, jumpOnXSign = "JGT", "JGE" // x>y: same-sign via (x-y)>0; opposite-sign iff x>=0
	case Lt:
		jumpOnDiff, jumpOnXSign = "JLT", "JLT" // x<y: same-sign via (x-y)<0; opposite-sign iff x<0
	default:
		return nil, fmt.Errorf("unrecognized comparison operation '%s'", op)
	}

	id := l.comparisonCounter
	l.comparisonCounter++

	sameSign := fmt.Sprintf("__CMP_%d_SAME_SIGN", id)
	xNeg := fmt.Sprintf("__CMP_%d_X_NEG", id)
	trueLabel := fmt.Sprintf("__CMP_%d_TRUE", id)
	falseLabel := fmt.Sprintf("__CMP_%d_FALSE", id)
	endLabel := fmt.Sprintf("__CMP_%d_END", id)

	insts := []asm.Instruction{
		// R14 = y (top of stack, popped); R13 = x (new top, left in place)
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "AM", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},

		// Same sign iff (x<0) == (y<0).
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: xNeg},
		asm.CInstruction{Comp: "D", Jump: "JLT"},
		// x >= 0: same sign only if y >= 0 too
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: sameSign},
		asm.CInstruction{Comp: "D", Jump: "JGE"},
		asm.AInstruction{Location: fmt.Sprintf("%s_OPPOSITE", sameSign)},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		// x < 0: same sign only if y < 0 too
		asm.LabelDecl{Name: xNeg},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: sameSign},
		asm.CInstruction{Comp: "D", Jump: "JLT"},

		asm.LabelDecl{Name: fmt.Sprintf("%s_OPPOSITE", sameSign)},
	}

	if jumpOnXSign != "" {
		insts = append(insts,
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: trueLabel},
			asm.CInstruction{Comp: "D", Jump: jumpOnXSign},
		)
	}
	insts = append(insts,
		asm.AInstruction{Location: falseLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	insts = append(insts,
		asm.LabelDecl{Name: sameSign},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "D", Comp: "D-M"},
		asm.AInstruction{Location: trueLabel},
		asm.CInstruction{Comp: "D", Jump: jumpOnDiff},
	)

	insts = append(insts,
		// False case: the same-sign branch falls through, the opposite-sign branch jumps
		// here. SP already sits one below its pre-comparison value (y was popped);
		// overwrite x's old slot, the new top of stack, with the boolean result.
		asm.LabelDecl{Name: falseLabel},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "0"},
		asm.AInstruction{Location: endLabel},
		asm.CInstruction{Comp: "0", Jump: "JMP"},

		asm.LabelDecl{Name: trueLabel},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "A", Comp: "M-1"},
		asm.CInstruction{Dest: "M", Comp: "-1"},

		asm.LabelDecl{Name: endLabel},
	)

	return insts, nil
}

// ----------------------------------------------------------------------------
// Label Declaration & Control Flow

func (l *Lowerer) qualifyLabel(label string) string {
	if l.currentFunc == "" {
		return label
	}
	return fmt.Sprintf("%s$%s", l.currentFunc, label)
}

func (l *Lowerer) lowerLabelDecl(op LabelDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty label declaration")
	}
	return []asm.Instruction{asm.LabelDecl{Name: l.qualifyLabel(op.Name)}}, nil
}

func (l *Lowerer) lowerGotoOp(op GotoOp) ([]asm.Instruction, error) {
	if op.Label == "" {
		return nil, fmt.Errorf("unable to produce empty jump label")
	}
	target := l.qualifyLabel(op.Label)

	switch op.Jump {
	case Unconditional:
		return []asm.Instruction{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "0", Jump: "JMP"},
		}, nil
	case Conditional:
		return concat(popIntoD(), []asm.Instruction{
			asm.AInstruction{Location: target},
			asm.CInstruction{Comp: "D", Jump: "JNE"},
		}), nil
	default:
		return nil, fmt.Errorf("unrecognized jump type '%s'", op.Jump)
	}
}

// ----------------------------------------------------------------------------
// Function Declaration, Call & Return

func (l *Lowerer) lowerFuncDecl(op FuncDecl) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function declaration")
	}
	l.currentFunc = op.Name

	insts := []asm.Instruction{asm.LabelDecl{Name: op.Name}}
	for i := uint8(0); i < op.NLocal; i++ {
		insts = append(insts,
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "M+1"},
			asm.CInstruction{Dest: "A", Comp: "M-1"},
			asm.CInstruction{Dest: "M", Comp: "0"},
		)
	}
	return insts, nil
}

// lowerFuncCallOp expands 'call F m' into: push a freshly minted return label, save
// the caller's LCL/ARG/THIS/THAT, reposition ARG/LCL for the callee, jump to F, and
// finally define the return label right after the jump.
func (l *Lowerer) lowerFuncCallOp(op FuncCallOp) ([]asm.Instruction, error) {
	if op.Name == "" {
		return nil, fmt.Errorf("unable to produce empty function call")
	}

	retLabel := fmt.Sprintf("%s$ret.%d", strings.ReplaceAll(op.Name, ".", "_"), l.callCounter)
	l.callCounter++

	insts := []asm.Instruction{
		asm.AInstruction{Location: retLabel},
		asm.CInstruction{Dest: "D", Comp: "A"},
	}
	insts = append(insts, pushD()...)

	for _, reg := range []string{"LCL", "ARG", "THIS", "THAT"} {
		insts = append(insts,
			asm.AInstruction{Location: reg},
			asm.CInstruction{Dest: "D", Comp: "M"},
		)
		insts = append(insts, pushD()...)
	}

	insts = append(insts,
		// ARG = SP - 5 - nArgs
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: fmt.Sprint(5 + int(op.NArgs))},
		asm.CInstruction{Dest: "D", Comp: "D-A"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// LCL = SP
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// goto F
		asm.AInstruction{Location: op.Name},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
		// (retLabel)
		asm.LabelDecl{Name: retLabel},
	)

	return insts, nil
}

// lowerReturnOp captures the return address into a scratch register before restoring
// any caller state: a 0-local/0-arg frame would otherwise have its saved return address
// overwritten by the restored registers before it's used.
func (l *Lowerer) lowerReturnOp() ([]asm.Instruction, error) {
	insts := []asm.Instruction{
		// R13 (frame) = LCL
		asm.AInstruction{Location: "LCL"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R13"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		// R14 (retAddr) = *(frame-5)
		asm.AInstruction{Location: "5"},
		asm.CInstruction{Dest: "A", Comp: "D-A"},
		asm.CInstruction{Dest: "D", Comp: "M"},
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	}

	insts = append(insts, popIntoD()...)
	insts = append(insts,
		// *ARG = pop(); SP = ARG+1
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Dest: "M", Comp: "D"},
		asm.AInstruction{Location: "ARG"},
		asm.CInstruction{Dest: "D", Comp: "M+1"},
		asm.AInstruction{Location: "SP"},
		asm.CInstruction{Dest: "M", Comp: "D"},
	)

	// Restore THAT, THIS, ARG, LCL from frame-1..frame-4, in that order.
	for i, reg := range []string{"THAT", "THIS", "ARG", "LCL"} {
		insts = append(insts,
			asm.AInstruction{Location: "R13"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: fmt.Sprint(i + 1)},
			asm.CInstruction{Dest: "A", Comp: "D-A"},
			asm.CInstruction{Dest: "D", Comp: "M"},
			asm.AInstruction{Location: reg},
			asm.CInstruction{Dest: "M", Comp: "D"},
		)
	}

	insts = append(insts,
		// goto retAddr
		asm.AInstruction{Location: "R14"},
		asm.CInstruction{Dest: "A", Comp: "M"},
		asm.CInstruction{Comp: "0", Jump: "JMP"},
	)

	return insts, nil
}
