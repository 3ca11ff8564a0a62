package undo

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"
)

// Wire layout, big-endian, no version field:
//
//	Command        = valid:bool type:int8 operations:seq(BasicOperation) sources:seq(string) destination:string
//	BasicOperation = valid:bool directory:bool renamed:bool link:bool src:string dst:string target:string
//	bool           = 1 byte, 0 or 1
//	string         = length:uint32 UTF-8 bytes
//	seq(T)         = count:uint32 T...
//
// Peers exchange this encoding, so any change to it breaks compatibility with
// running instances.

var (
	_ encoding.BinaryMarshaler   = Command{}
	_ encoding.BinaryUnmarshaler = (*Command)(nil)
)

// ErrMalformed is returned when decoding input that is not a valid encoding.
var ErrMalformed = errors.New("undo: malformed command encoding")

// MarshalBinary encodes c in the wire layout.
func (c Command) MarshalBinary() ([]byte, error) {
	var w writer
	w.command(c)
	return w.buf.Bytes(), nil
}

// UnmarshalBinary decodes exactly one command from data. The layout does not
// distinguish a nil sequence from an empty one, so empty Operations and
// Sources decode as nil.
func (c *Command) UnmarshalBinary(data []byte) error {
	r := reader{data: data}
	cmd := r.command()
	if r.err == nil && r.off != len(r.data) {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.data)-r.off)
	}
	if r.err != nil {
		return r.err
	}
	*c = cmd
	return nil
}

// MarshalHistory encodes a whole history, bottom of the stack first.
func MarshalHistory(cmds []Command) []byte {
	var w writer
	w.uint32(uint32(len(cmds)))
	for _, c := range cmds {
		w.command(c)
	}
	return w.buf.Bytes()
}

// UnmarshalHistory decodes the output of MarshalHistory.
func UnmarshalHistory(data []byte) ([]Command, error) {
	r := reader{data: data}
	n := r.count(1)
	cmds := make([]Command, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		cmds = append(cmds, r.command())
	}
	if r.err == nil && r.off != len(r.data) {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(r.data)-r.off)
	}
	if r.err != nil {
		return nil, r.err
	}
	return cmds, nil
}

type writer struct {
	buf bytes.Buffer
}

func (w *writer) bool(b bool) {
	if b {
		w.buf.WriteByte(1)
		return
	}
	w.buf.WriteByte(0)
}

func (w *writer) uint32(n uint32) {
	w.buf.Write(binary.BigEndian.AppendUint32(nil, n))
}

func (w *writer) string(s string) {
	w.uint32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) operation(op BasicOperation) {
	w.bool(op.Valid)
	w.bool(op.Directory)
	w.bool(op.Renamed)
	w.bool(op.Link)
	w.string(op.Src)
	w.string(op.Dst)
	w.string(op.Target)
}

func (w *writer) command(c Command) {
	w.bool(c.Valid)
	w.buf.WriteByte(byte(c.Type))
	w.uint32(uint32(len(c.Operations)))
	for _, op := range c.Operations {
		w.operation(op)
	}
	w.uint32(uint32(len(c.Sources)))
	for _, s := range c.Sources {
		w.string(s)
	}
	w.string(c.Destination)
}

// reader decodes sequentially and remembers the first error; later reads
// return zero values.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.data)-r.off {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) bool() bool {
	switch v := r.byte(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		if r.err == nil {
			r.err = fmt.Errorf("%w: bad bool %d at offset %d", ErrMalformed, v, r.off-1)
		}
		return false
	}
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// count reads a sequence length and rejects counts that cannot fit in the
// remaining input given the minimum encoded element size.
func (r *reader) count(minElem int) int {
	n := r.uint32()
	if r.err != nil {
		return 0
	}
	if uint64(n)*uint64(minElem) > uint64(len(r.data)-r.off) {
		r.err = fmt.Errorf("%w: sequence of %d exceeds input", ErrMalformed, n)
		return 0
	}
	return int(n)
}

func (r *reader) string() string {
	n := r.uint32()
	return string(r.take(int(n)))
}

// Minimum encoded sizes, used to bound sequence counts.
const (
	minOperationSize = 4 + 3*4
	minStringSize    = 4
)

func (r *reader) operation() BasicOperation {
	return BasicOperation{
		Valid:     r.bool(),
		Directory: r.bool(),
		Renamed:   r.bool(),
		Link:      r.bool(),
		Src:       r.string(),
		Dst:       r.string(),
		Target:    r.string(),
	}
}

func (r *reader) command() Command {
	var c Command
	c.Valid = r.bool()
	c.Type = CommandType(int8(r.byte()))

	if n := r.count(minOperationSize); n > 0 {
		c.Operations = make([]BasicOperation, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			c.Operations = append(c.Operations, r.operation())
		}
	}
	if n := r.count(minStringSize); n > 0 {
		c.Sources = make([]string, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			c.Sources = append(c.Sources, r.string())
		}
	}
	c.Destination = r.string()
	return c
}
