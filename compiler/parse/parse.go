// Package parse reads translation units from their text form.
//
//	unit add_r1_r2
//	b0:	ldreg $4:4, v1:4
//		ldreg $8:4, v2:4
//		add v1:4, v2:4
//		streg v2:4, $8:4
//		jmp b1
//	b1:	ret
//
// Operands are $value:size constants, v<id>:size virtual registers,
// b<id> blocks and f<addr> functions. A line starting with + continues
// the operand list of the previous instruction. # starts a comment.
package parse

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"reflect"

	"tlog.app/go/errors"

	"github.com/slowlang/blockjit/compiler/ir"
)

type (
	State struct {
		b []byte // all files concatenated

		Grammar Parser

		files []file
	}

	file struct {
		base int
		size int
		name string
	}

	Parser interface {
		Parse(ctx context.Context, b []byte, st int) (x any, i int, err error)
	}

	TypeExpectedError struct {
		T any
	}

	PartialReadError struct {
		End int
	}

	// PosError is an error at a text position.
	PosError struct {
		File      string
		Line, Col int

		Err error
	}
)

func ParseFile(ctx context.Context, name string) ([]*ir.Unit, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	s := New()

	s.AddFile(name, data)

	return s.Units(ctx)
}

func Parse(ctx context.Context, text []byte) ([]*ir.Unit, error) {
	s := New()

	s.AddFile("", text)

	return s.Units(ctx)
}

func New() *State {
	return &State{
		Grammar: Units{},
	}
}

func (s *State) Parse(ctx context.Context) (x any, err error) {
	x, i, err := s.Grammar.Parse(ctx, s.b, 0)
	if err != nil {
		return nil, s.posError(errors.Wrap(err, "parse as grammar"), i)
	}

	i = SpaceAll.Skip(s.b, i)

	if i != len(s.b) {
		return x, s.posError(PartialReadError{End: i}, i)
	}

	return x, nil
}

// Units parses all the files as a list of units.
func (s *State) Units(ctx context.Context) ([]*ir.Unit, error) {
	x, err := s.Parse(ctx)
	if err != nil {
		return nil, err
	}

	us, ok := x.([]*ir.Unit)
	if !ok {
		return nil, NewTypeExpectedError(us)
	}

	return us, nil
}

func (s *State) AddFile(name string, text []byte) {
	f := file{
		name: name,
		base: len(s.b),
		size: len(text),
	}

	s.b = append(s.b, text...)

	if len(text) != 0 && text[len(text)-1] != '\n' {
		s.b = append(s.b, '\n')
		f.size++
	}

	s.files = append(s.files, f)
}

// Pos converts offset into file name, line and column. Both are 1-based.
func (s *State) Pos(i int) (name string, line, col int) {
	for _, f := range s.files {
		if i < f.base || i > f.base+f.size {
			continue
		}

		text := s.b[f.base:i]

		line = 1 + bytes.Count(text, []byte{'\n'})
		col = 1 + len(text) - (bytes.LastIndexByte(text, '\n') + 1)

		return f.name, line, col
	}

	return "", 0, 0
}

func (s *State) posError(err error, i int) error {
	name, line, col := s.Pos(i)
	if line == 0 {
		return err
	}

	return PosError{
		File: name,
		Line: line,
		Col:  col,
		Err:  err,
	}
}

func NewTypeExpectedError(t any) TypeExpectedError {
	return TypeExpectedError{
		T: t,
	}
}

func (e TypeExpectedError) Error() string {
	return fmt.Sprintf("%v expected", reflect.TypeOf(e.T))
}

func (e PartialReadError) Error() string {
	return "partial read"
}

func (e PosError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%d:%d: %v", e.Line, e.Col, e.Err)
	}

	return fmt.Sprintf("%s:%d:%d: %v", e.File, e.Line, e.Col, e.Err)
}

func (e PosError) Unwrap() error { return e.Err }
