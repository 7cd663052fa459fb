package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// A StackFrame contains all necessary information about to generate a line
// in a callstack.
type StackFrame struct {
	// The path to the file containing this ProgramCounter.
	File string
	// The LineNumber in that file.
	LineNumber int
	// The Name of the function that contains this ProgramCounter.
	Name string
	// The Package that contains this function.
	Package string
	// The underlying ProgramCounter.
	ProgramCounter uintptr
}

// NewStackFrame popoulates a stack frame object from the program counter.
func NewStackFrame(pc uintptr) StackFrame {
	frame := StackFrame{ProgramCounter: pc}
	if fn := runtime.FuncForPC(pc); fn != nil {
		frame.Package, frame.Name = packageAndName(fn)
		// pc -1 because the program counters we use are usually return
		// addresses, and we want to show the line that corresponds to the
		// function call.
		frame.File, frame.LineNumber = fn.FileLine(pc - 1)
	}
	return frame
}

// String returns the stackframe formatted in the same way as go does in
// runtime/debug.Stack().
func (frame *StackFrame) String() string {
	return fmt.Sprintf("%s:%d (0x%x)\n\t%s\n", frame.File, frame.LineNumber, frame.ProgramCounter, frame.Name)
}

func packageAndName(fn *runtime.Func) (string, string) {
	name := fn.Name()
	pkg := ""

	// The name includes the path name to the package, which is unnecessary
	// since the file name is already included. Plus, it has center dots.
	// That is, we see
	//  runtime/debug.*T·ptrmethod
	// and want
	//  *T.ptrmethod
	// Since the package path might contain dots (e.g. code.google.com/...),
	// we first remove the path prefix if there is one.
	if lastslash := strings.LastIndex(name, "/"); lastslash >= 0 {
		pkg += name[:lastslash] + "/"
		name = name[lastslash+1:]
	}
	if period := strings.Index(name, "."); period >= 0 {
		pkg += name[:period]
		name = name[period+1:]
	}

	name = strings.ReplaceAll(name, "·", ".")
	return pkg, name
}
