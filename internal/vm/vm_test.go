package vm_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rook-vm/internal/compiler"
	"rook-vm/internal/lexer"
	"rook-vm/internal/stdlib"
	"rook-vm/internal/value"
	"rook-vm/internal/vm"
)

// runSource compiles and runs source with print captured; it returns the
// printed output and the Interpret error, if any.
func runSource(t *testing.T, source string) (string, error) {
	t.Helper()

	p := compiler.New(lexer.New(source))
	fn, err := p.Compile()
	require.NoError(t, err, "compile error for %q", source)

	machine := vm.New()
	machine.ErrOut = &bytes.Buffer{}

	var out bytes.Buffer
	stdlib.RegisterWriter(machine, &out)

	err = machine.Interpret(fn)
	return out.String(), err
}

func runLines(t *testing.T, source string) []string {
	t.Helper()
	out, err := runSource(t, source)
	require.NoError(t, err)
	out = strings.TrimSuffix(out, "\n")
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

type vmTestCase struct {
	input    string
	expected interface{}
}

// runVMTests routes each expression through a capturing native, the way
// the end-to-end suite observes results without parsing print output.
func runVMTests(t *testing.T, tests []vmTestCase) {
	t.Helper()
	for _, tt := range tests {
		input := fmt.Sprintf("test_report(%s);", tt.input)

		p := compiler.New(lexer.New(input))
		fn, err := p.Compile()
		require.NoErrorf(t, err, "compile error for %q", tt.input)

		machine := vm.New()
		machine.ErrOut = &bytes.Buffer{}
		stdlib.RegisterWriter(machine, &bytes.Buffer{})

		captured := value.NewNil()
		machine.DefineNative("test_report", func(args []value.Value) value.Value {
			if len(args) > 0 {
				captured = args[0]
			}
			return value.NewNil()
		})

		require.NoErrorf(t, machine.Interpret(fn), "vm error for %q", tt.input)
		assertValue(t, tt.input, tt.expected, captured)
	}
}

func assertValue(t *testing.T, input string, expected interface{}, actual value.Value) {
	t.Helper()
	switch want := expected.(type) {
	case int:
		require.Equalf(t, value.VAL_INT, actual.Type, "%q: not an integer: %v", input, actual)
		assert.Equalf(t, int64(want), actual.AsInt, "%q", input)
	case float64:
		require.Equalf(t, value.VAL_FLOAT, actual.Type, "%q: not a float: %v", input, actual)
		assert.Equalf(t, want, actual.AsFloat, "%q", input)
	case bool:
		require.Equalf(t, value.VAL_BOOL, actual.Type, "%q: not a bool: %v", input, actual)
		assert.Equalf(t, want, actual.AsBool, "%q", input)
	case string:
		require.Equalf(t, value.VAL_STRING, actual.Type, "%q: not a string: %v", input, actual)
		assert.Equalf(t, want, actual.Str, "%q", input)
	case nil:
		assert.Equalf(t, value.VAL_NIL, actual.Type, "%q", input)
	}
}

func TestIntegerArithmetic(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"1", 1},
		{"1 + 2", 3},
		{"1 - 2", -1},
		{"2 * 3", 6},
		{"7 / 2", 3},
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"-5", -5},
		{"50 / 2 * 2 + 10", 60},
	})
}

func TestFloatArithmetic(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"1.5 + 2.25", 3.75},
		{"1.0 - 0.5", 0.5},
		{"2.0 * 3.5", 7.0},
		{"7.0 / 2.0", 3.5},
		{"-1.5", -1.5},
	})
}

func TestComparisonAndEquality(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"1 < 2", true},
		{"2 < 1", false},
		{"2 <= 2", true},
		{"3 > 2", true},
		{"2 >= 3", false},
		{"1 == 1", true},
		{"1 != 1", false},
		{"1 == 2", false},
		{"true == true", true},
		{"true == false", false},
		{"nil == nil", true},
		// Mismatched types compare unequal, never error.
		{"1 == 1.0", false},
		{"nil == 0", false},
		{"1 == true", false},
	})
}

func TestLogicalOperators(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{"true && true", true},
		{"true && false", false},
		{"false && true", false},
		{"false || true", true},
		{"false || false", false},
		{"true || false", true},
		{"!true", false},
		{"!false", true},
		{"!0", true},
		{"!1", false},
	})
}

func TestStringValues(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{`"hello"`, "hello"},
		{`"a" == "a"`, true},
		{`"a" == "b"`, false},
		{`"a" != "b"`, true},
	})
}

func TestGlobalDeclarationAndUse(t *testing.T) {
	lines := runLines(t, `
var a = 1;
var b = a + 2;
a = b * 2;
print(a);
print(b);
`)
	assert.Equal(t, []string{"6", "3"}, lines)
}

func TestPrecedenceScenario(t *testing.T) {
	lines := runLines(t, "print(1 + 2 * 3);")
	assert.Equal(t, []string{"7"}, lines)
}

func TestLexicalScoping(t *testing.T) {
	lines := runLines(t, `
var a = 1;
{
	var a = 2;
	print(a);
}
print(a);
`)
	assert.Equal(t, []string{"2", "1"}, lines)
}

func TestWhileLoop(t *testing.T) {
	lines := runLines(t, `
var i = 0;
while (i < 3) {
	print(i);
	i = i + 1;
}
`)
	assert.Equal(t, []string{"0", "1", "2"}, lines)
}

func TestForLoop(t *testing.T) {
	lines := runLines(t, `
for (var i = 0; i < 3; i = i + 1) {
	print(i);
}
`)
	assert.Equal(t, []string{"0", "1", "2"}, lines)
}

func TestForLoopWithoutClauses(t *testing.T) {
	lines := runLines(t, `
var i = 0;
for (;;) {
	if (i == 2) break;
	print(i);
	i = i + 1;
}
`)
	assert.Equal(t, []string{"0", "1"}, lines)
}

func TestBreakInsideWhile(t *testing.T) {
	lines := runLines(t, `
var i = 0;
while (true) {
	if (i == 3) break;
	print(i);
	i = i + 1;
}
print(99);
`)
	assert.Equal(t, []string{"0", "1", "2", "99"}, lines)
}

func TestIfElse(t *testing.T) {
	lines := runLines(t, `
if (1 < 2) print(1); else print(2);
if (2 < 1) print(3); else print(4);
if (0) print(5); else print(6);
if (nil) print(7); else print(8);
`)
	assert.Equal(t, []string{"1", "4", "6", "8"}, lines)
}

func TestRecursionScenario(t *testing.T) {
	lines := runLines(t, `
fn fact(n) {
	if (n < 2) return 1;
	return n * fact(n - 1);
}
print(fact(5));
`)
	assert.Equal(t, []string{"120"}, lines)
}

func TestClosureCapture(t *testing.T) {
	lines := runLines(t, `
fn mk() {
	var x = 10;
	fn inner() { return x + 1; }
	return inner;
}
print(mk()());
`)
	assert.Equal(t, []string{"11"}, lines)
}

func TestClosureSharesCell(t *testing.T) {
	lines := runLines(t, `
fn counter() {
	var n = 0;
	fn bump() {
		n = n + 1;
		return n;
	}
	return bump;
}
var c = counter();
print(c());
print(c());
print(c());
`)
	assert.Equal(t, []string{"1", "2", "3"}, lines)
}

func TestStringHashEqualityScenario(t *testing.T) {
	lines := runLines(t, `
var a = "hi";
var b = "hi";
print(a == b);
`)
	assert.Equal(t, []string{"true"}, lines)
}

func TestBareReturnYieldsNil(t *testing.T) {
	lines := runLines(t, `
fn nothing() { return; }
print(nothing());
`)
	assert.Equal(t, []string{"nil"}, lines)
}

func TestImplicitReturnYieldsNil(t *testing.T) {
	lines := runLines(t, `
fn empty() {}
print(empty());
`)
	assert.Equal(t, []string{"nil"}, lines)
}

func TestTopLevelForwardReference(t *testing.T) {
	// Globals are late bound: f can call g declared after it.
	lines := runLines(t, `
fn f() { return g(); }
fn g() { return 1; }
print(f());
`)
	assert.Equal(t, []string{"1"}, lines)
}

func TestRecursionDepthBoundary(t *testing.T) {
	lines := runLines(t, `
fn rec(n) {
	if (n == 255) return n;
	return rec(n + 1);
}
print(rec(1));
`)
	assert.Equal(t, []string{"255"}, lines)
}

func TestFrameOverflow(t *testing.T) {
	_, err := runSource(t, `
fn rec(n) { return rec(n + 1); }
rec(1);
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Stack Overflow")
}

func TestUndefinedGlobalRead(t *testing.T) {
	_, err := runSource(t, "print(missing);")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'missing'")
}

func TestAssignmentToUndeclaredGlobal(t *testing.T) {
	_, err := runSource(t, "missing = 1;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'missing'")
}

// A failed assignment must not leave the key behind; the same VM still
// reports the global undefined afterwards.
func TestFailedAssignmentRollsBack(t *testing.T) {
	machine := vm.New()
	machine.ErrOut = &bytes.Buffer{}
	stdlib.RegisterWriter(machine, &bytes.Buffer{})

	p := compiler.New(lexer.New("missing = 1;"))
	fn, err := p.Compile()
	require.NoError(t, err)
	require.Error(t, machine.Interpret(fn))

	p = compiler.New(lexer.New("print(missing);"))
	fn, err = p.Compile()
	require.NoError(t, err)
	err = machine.Interpret(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Undefined variable 'missing'")
}

func TestCallNonCallable(t *testing.T) {
	_, err := runSource(t, "var x = 1; x();")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Can only call functions")
}

func TestArityMismatch(t *testing.T) {
	_, err := runSource(t, "fn two(a, b) { return a; } two(1);")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Expected 2 arguments but got 1")
}

func TestNegateNonNumber(t *testing.T) {
	_, err := runSource(t, `-"oops";`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negate non number")
}

func TestNotNonBoolNonInt(t *testing.T) {
	_, err := runSource(t, `!"oops";`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operand of '!'")
}

func TestIntegerDivisionByZero(t *testing.T) {
	_, err := runSource(t, "1 / 0;")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
}

func TestRuntimeErrorCarriesLine(t *testing.T) {
	_, err := runSource(t, "\n\nprint(missing);")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[line 3]")
}

func TestPrintReturnsZero(t *testing.T) {
	runVMTests(t, []vmTestCase{
		{`print("x")`, 0},
	})
}

func TestClockIsMonotonicSeconds(t *testing.T) {
	p := compiler.New(lexer.New("test_report(clock());"))
	fn, err := p.Compile()
	require.NoError(t, err)

	machine := vm.New()
	stdlib.RegisterWriter(machine, &bytes.Buffer{})
	captured := value.NewNil()
	machine.DefineNative("test_report", func(args []value.Value) value.Value {
		captured = args[0]
		return value.NewNil()
	})

	require.NoError(t, machine.Interpret(fn))
	require.Equal(t, value.VAL_FLOAT, captured.Type)
	assert.GreaterOrEqual(t, captured.AsFloat, 0.0)
}

func TestNativeArgumentOrder(t *testing.T) {
	p := compiler.New(lexer.New("probe(1, 2, 3);"))
	fn, err := p.Compile()
	require.NoError(t, err)

	machine := vm.New()
	var got []int64
	machine.DefineNative("probe", func(args []value.Value) value.Value {
		for _, a := range args {
			got = append(got, a.AsInt)
		}
		return value.NewInt(int64(len(args)))
	})

	require.NoError(t, machine.Interpret(fn))
	assert.Equal(t, []int64{1, 2, 3}, got)
}

func TestGlobalsPersistAcrossInterpret(t *testing.T) {
	machine := vm.New()
	stdlib.RegisterWriter(machine, &bytes.Buffer{})

	p := compiler.New(lexer.New("var kept = 41;"))
	fn, err := p.Compile()
	require.NoError(t, err)
	require.NoError(t, machine.Interpret(fn))

	captured := value.NewNil()
	machine.DefineNative("test_report", func(args []value.Value) value.Value {
		captured = args[0]
		return value.NewNil()
	})

	p = compiler.New(lexer.New("test_report(kept + 1);"))
	fn, err = p.Compile()
	require.NoError(t, err)
	require.NoError(t, machine.Interpret(fn))
	assertValue(t, "kept + 1", 42, captured)
}

func TestNestedFunctionsAndShadowing(t *testing.T) {
	lines := runLines(t, `
var x = "global";
fn outer() {
	var x = "outer";
	fn inner() { return x; }
	return inner();
}
print(outer());
print(x);
`)
	assert.Equal(t, []string{"outer", "global"}, lines)
}
