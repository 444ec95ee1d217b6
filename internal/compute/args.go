package compute

import (
	"github.com/pkg/errors"
)

type argKind int8

const (
	argUnset argKind = iota
	argBuffer
	argInt
	argFloat
)

type arg struct {
	kind argKind
	buf  Buffer
	i    int64
	f    float64
}

// ArgList holds kernel arguments by position.
type ArgList struct {
	args []arg
}

// NewArgList returns a list with n unset arguments.
func NewArgList(n int) *ArgList {
	return &ArgList{args: make([]arg, n)}
}

// Len is the number of argument slots.
func (l *ArgList) Len() int { return len(l.args) }

// SetBuffer sets argument i to buf.
func (l *ArgList) SetBuffer(i int, buf Buffer) *ArgList {
	l.args[i] = arg{kind: argBuffer, buf: buf}
	return l
}

// SetInt sets argument i to an integer scalar.
func (l *ArgList) SetInt(i int, v int64) *ArgList {
	l.args[i] = arg{kind: argInt, i: v}
	return l
}

// SetFloat sets argument i to a floating point scalar.
func (l *ArgList) SetFloat(i int, v float64) *ArgList {
	l.args[i] = arg{kind: argFloat, f: v}
	return l
}

// Buffer returns argument i, which must be a buffer.
func (l *ArgList) Buffer(i int) (Buffer, error) {
	a, err := l.get(i, argBuffer)
	return a.buf, err
}

// Int returns argument i, which must be an integer.
func (l *ArgList) Int(i int) (int64, error) {
	a, err := l.get(i, argInt)
	return a.i, err
}

// Float returns argument i, which must be a float.
func (l *ArgList) Float(i int) (float64, error) {
	a, err := l.get(i, argFloat)
	return a.f, err
}

func (l *ArgList) get(i int, kind argKind) (arg, error) {
	if i < 0 || i >= len(l.args) {
		return arg{}, errors.Wrapf(ErrLaunchFailure, "argument %d out of range (%d arguments)", i, len(l.args))
	}
	if l.args[i].kind != kind {
		return arg{}, errors.Wrapf(ErrLaunchFailure, "argument %d has the wrong kind", i)
	}
	return l.args[i], nil
}
