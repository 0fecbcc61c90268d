package jack

import (
	"fmt"
	"strings"
)

// TypeChecker walks a 'jack.Program' performing a best-effort static check: every variable
// reference must resolve to a declared variable, every function call must target a declared
// subroutine (or a stdlib one, if the ABI was loaded) with a matching argument count, and
// every assignment's RHS must be type-compatible with its LHS. It does not perform full
// Hindley-Milner style inference, just the checks a Jack programmer would expect a compiler
// to catch before emitting any VM code.
type TypeChecker struct {
	program Program
	scopes  ScopeTable // Keeps track of the scopes and declared variables inside each one
}

func NewTypeChecker(program Program) TypeChecker {
	return TypeChecker{program: program}
}

// Check validates every class in the program, returning the first error encountered.
func (tc *TypeChecker) Check() (bool, error) {
	if len(tc.program) == 0 {
		return false, fmt.Errorf("the given 'program' is empty or nil")
	}

	for name, class := range tc.program {
		if _, err := tc.HandleClass(class); err != nil {
			return false, fmt.Errorf("error type-checking class '%s': %w", name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Class' and nested fields.
func (tc *TypeChecker) HandleClass(class Class) (bool, error) {
	tc.scopes.PushClassScope(class.Name) // Keep track of the current scope being processed
	defer tc.scopes.PopClassScope()      // Reset the function name after processing

	for _, field := range class.Fields.Entries() {
		if _, err := tc.HandleVarStmt(VarStmt{Vars: []Variable{field}}); err != nil {
			return false, fmt.Errorf("error handling field '%s' in class '%s': %w", field.Name, class.Name, err)
		}
	}

	for _, subroutine := range class.Subroutines.Entries() {
		if _, err := tc.HandleSubroutine(subroutine); err != nil {
			return false, fmt.Errorf("error handling subroutine '%s' in class '%s': %w", subroutine.Name, class.Name, err)
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.Subroutine' and nested fields.
func (tc *TypeChecker) HandleSubroutine(subroutine Subroutine) (bool, error) {
	tc.scopes.PushSubRoutineScope(subroutine.Name) // Keep track of the current subroutine function being processed
	defer tc.scopes.PopSubroutineScope()           // Reset the function name after processing

	if subroutine.Type == Method {
		tc.scopes.RegisterVariable(Variable{Name: "__obj", Type: Parameter, DataType: Object})
	}

	// We add to the current scope also all of the arguments of the subroutine
	for _, arg := range subroutine.Arguments.Entries() {
		tc.scopes.RegisterVariable(arg)
	}

	for _, stmt := range subroutine.Statements {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, fmt.Errorf("error handling nested statement %T': %w", stmt, err)
		}
	}

	return true, nil
}

// Generalized function to type-check multiple statements types.
func (tc *TypeChecker) HandleStatement(stmt Statement) (bool, error) {
	switch tStmt := stmt.(type) {
	case DoStmt:
		_, err := tc.HandleExpression(tStmt.FuncCall)
		return err == nil, err
	case VarStmt:
		return tc.HandleVarStmt(tStmt)
	case LetStmt:
		return tc.HandleLetStmt(tStmt)
	case IfStmt:
		return tc.HandleIfStmt(tStmt)
	case WhileStmt:
		return tc.HandleWhileStmt(tStmt)
	case ReturnStmt:
		return tc.HandleReturnStmt(tStmt)
	default:
		return false, fmt.Errorf("unrecognized statement: %T", stmt)
	}
}

// Specialized function to type-check a 'jack.VarStmt', registering the declared variables.
func (tc *TypeChecker) HandleVarStmt(statement VarStmt) (bool, error) {
	for _, variable := range statement.Vars {
		tc.scopes.RegisterVariable(variable)
	}
	return true, nil
}

// Specialized function to type-check a 'jack.LetStmt': the LHS must resolve to a declared
// variable (or array cell) and the RHS expression's type must be compatible with it.
func (tc *TypeChecker) HandleLetStmt(statement LetStmt) (bool, error) {
	rhsType, err := tc.HandleExpression(statement.Rhs)
	if err != nil {
		return false, fmt.Errorf("error handling RHS expression: %w", err)
	}

	switch lhs := statement.Lhs.(type) {
	case VarExpr:
		_, variable, err := tc.scopes.ResolveVariable(lhs.Var)
		if err != nil {
			return false, err
		}
		if !compatible(variable.DataType, rhsType) {
			return false, fmt.Errorf("cannot assign '%s' to variable '%s' of type '%s'", rhsType, lhs.Var, variable.DataType)
		}
		return true, nil
	case ArrayExpr:
		if _, err := tc.HandleExpression(lhs); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("LHS expression must be either a 'VarExpr' or an 'ArrayExpr', got: %T", statement.Lhs)
	}
}

// Specialized function to type-check a 'jack.IfStmt' and its nested blocks.
func (tc *TypeChecker) HandleIfStmt(statement IfStmt) (bool, error) {
	if condType, err := tc.HandleExpression(statement.Condition); err != nil {
		return false, fmt.Errorf("error handling if condition expression: %w", err)
	} else if condType != Bool {
		return false, fmt.Errorf("if condition must be of type 'bool', got '%s'", condType)
	}

	for _, stmt := range append(append([]Statement{}, statement.ThenBlock...), statement.ElseBlock...) {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, err
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.WhileStmt' and its nested block.
func (tc *TypeChecker) HandleWhileStmt(statement WhileStmt) (bool, error) {
	if condType, err := tc.HandleExpression(statement.Condition); err != nil {
		return false, fmt.Errorf("error handling while condition expression: %w", err)
	} else if condType != Bool {
		return false, fmt.Errorf("while condition must be of type 'bool', got '%s'", condType)
	}

	for _, stmt := range statement.Block {
		if _, err := tc.HandleStatement(stmt); err != nil {
			return false, err
		}
	}

	return true, nil
}

// Specialized function to type-check a 'jack.ReturnStmt' expression, if any.
func (tc *TypeChecker) HandleReturnStmt(statement ReturnStmt) (bool, error) {
	if statement.Expr == nil {
		return true, nil
	}
	_, err := tc.HandleExpression(statement.Expr)
	return err == nil, err
}

// Generalized function to type-check expressions, returning the resolved 'jack.DataType'.
func (tc *TypeChecker) HandleExpression(expr Expression) (DataType, error) {
	switch tExpr := expr.(type) {
	case VarExpr:
		if tExpr.Var == "this" {
			return Object, nil
		}
		_, variable, err := tc.scopes.ResolveVariable(tExpr.Var)
		if err != nil {
			return "", err
		}
		return variable.DataType, nil

	case LiteralExpr:
		return tExpr.Type, nil

	case ArrayExpr:
		if _, _, err := tc.scopes.ResolveVariable(tExpr.Var); err != nil {
			return "", err
		}
		if indexType, err := tc.HandleExpression(tExpr.Index); err != nil {
			return "", err
		} else if indexType != Int {
			return "", fmt.Errorf("array index for '%s' must be of type 'int', got '%s'", tExpr.Var, indexType)
		}
		return Int, nil

	case UnaryExpr:
		rhsType, err := tc.HandleExpression(tExpr.Rhs)
		if err != nil {
			return "", err
		}
		switch tExpr.Type {
		case Negation:
			if rhsType != Int {
				return "", fmt.Errorf("unary '-' requires an 'int' operand, got '%s'", rhsType)
			}
			return Int, nil
		case BoolNot:
			if rhsType != Bool {
				return "", fmt.Errorf("unary '~' requires a 'bool' operand, got '%s'", rhsType)
			}
			return Bool, nil
		case ShiftLeft, ShiftRight:
			if rhsType != Int {
				return "", fmt.Errorf("unary '%s' requires an 'int' operand, got '%s'", tExpr.Type, rhsType)
			}
			return Int, nil
		default:
			return "", fmt.Errorf("unrecognized unary expression type: %s", tExpr.Type)
		}

	case BinaryExpr:
		return tc.HandleBinaryExpr(tExpr)

	case FuncCallExpr:
		return tc.HandleFuncCallExpr(tExpr)

	default:
		return "", fmt.Errorf("unrecognized expression: %T", expr)
	}
}

// Specialized function to type-check a 'jack.BinaryExpr', resolving the result's 'jack.DataType'.
func (tc *TypeChecker) HandleBinaryExpr(expression BinaryExpr) (DataType, error) {
	lhsType, err := tc.HandleExpression(expression.Lhs)
	if err != nil {
		return "", fmt.Errorf("error handling nested LHS expression: %w", err)
	}
	rhsType, err := tc.HandleExpression(expression.Rhs)
	if err != nil {
		return "", fmt.Errorf("error handling nested RHS expression: %w", err)
	}

	switch expression.Type {
	case Plus, Minus, Divide, Multiply:
		if lhsType != Int || rhsType != Int {
			return "", fmt.Errorf("operator '%s' requires 'int' operands, got '%s' and '%s'", expression.Type, lhsType, rhsType)
		}
		return Int, nil
	case BoolOr, BoolAnd:
		if lhsType != Bool || rhsType != Bool {
			return "", fmt.Errorf("operator '%s' requires 'bool' operands, got '%s' and '%s'", expression.Type, lhsType, rhsType)
		}
		return Bool, nil
	case Equal, LessThan, GreatThan:
		if !compatible(lhsType, rhsType) {
			return "", fmt.Errorf("operator '%s' requires comparable operands, got '%s' and '%s'", expression.Type, lhsType, rhsType)
		}
		return Bool, nil
	default:
		return "", fmt.Errorf("unrecognized binary expression type: %s", expression.Type)
	}
}

// Specialized function to type-check a 'jack.FuncCallExpr': resolves the callee and verifies
// the number of arguments provided matches the declared subroutine's signature.
func (tc *TypeChecker) HandleFuncCallExpr(expression FuncCallExpr) (DataType, error) {
	for _, arg := range expression.Arguments {
		if _, err := tc.HandleExpression(arg); err != nil {
			return "", fmt.Errorf("error handling argument expression: %w", err)
		}
	}

	class, routine, err := tc.resolveCallee(expression)
	if err != nil {
		return "", err
	}

	if routine.Arguments.Size() != len(expression.Arguments) {
		return "", fmt.Errorf("subroutine '%s.%s' expects %d argument(s), got %d",
			class.Name, routine.Name, routine.Arguments.Size(), len(expression.Arguments))
	}

	return routine.Return, nil
}

// resolveCallee finds the 'jack.Class' and 'jack.Subroutine' targeted by a function call
// expression, whether it's a same-class call, an instance method call or a static one.
func (tc *TypeChecker) resolveCallee(expression FuncCallExpr) (Class, Subroutine, error) {
	if !expression.IsExtCall {
		className := strings.Split(tc.scopes.GetScope(), ".")[0]
		class, exists := tc.program[className]
		if !exists {
			return Class{}, Subroutine{}, fmt.Errorf("class definition not found for '%s'", className)
		}
		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return Class{}, Subroutine{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, className)
		}
		return class, routine, nil
	}

	if _, variable, err := tc.scopes.ResolveVariable(expression.Var); err == nil {
		class, exists := tc.program[variable.ClassName]
		if !exists {
			return Class{}, Subroutine{}, fmt.Errorf("class definition not found for '%s'", variable.ClassName)
		}
		routine, exists := class.Subroutines.Get(expression.FuncName)
		if !exists {
			return Class{}, Subroutine{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, variable.ClassName)
		}
		return class, routine, nil
	}

	class, exists := tc.program[expression.Var]
	if !exists {
		return Class{}, Subroutine{}, fmt.Errorf("class definition not found for '%s'", expression.Var)
	}
	routine, exists := class.Subroutines.Get(expression.FuncName)
	if !exists {
		return Class{}, Subroutine{}, fmt.Errorf("subroutine '%s' not found in class '%s'", expression.FuncName, class.Name)
	}
	return class, routine, nil
}

// compatible reports whether a value of type 'from' may be assigned/compared to type 'to'.
// Jack only needs one escape hatch here: 'null' (an Object literal) is assignable to any
// object-typed variable, and any object is comparable to 'null'.
func compatible(to, from DataType) bool {
	if to == from {
		return true
	}
	return to == Object || from == Object
}
