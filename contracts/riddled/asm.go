package riddled

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// assembler builds small EVM programs. Jump targets are referenced by label
// and patched in when the code is finalized.
type assembler struct {
	code   []byte
	labels map[string]int
	refs   map[int]string // offset of PUSH1 immediate -> label
}

func newAssembler() *assembler {
	return &assembler{labels: make(map[string]int), refs: make(map[int]string)}
}

func (a *assembler) op(ops ...vm.OpCode) {
	for _, op := range ops {
		a.code = append(a.code, byte(op))
	}
}

// push emits the shortest PUSHn carrying data.
func (a *assembler) push(data ...byte) {
	if len(data) == 0 || len(data) > 32 {
		panic(fmt.Sprintf("invalid push size %d", len(data)))
	}
	a.op(vm.PUSH1 + vm.OpCode(len(data)-1))
	a.code = append(a.code, data...)
}

func (a *assembler) push16(v uint16) {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	a.push(buf[:]...)
}

// pushLabel emits PUSH1 with the offset of a label defined anywhere in the program.
func (a *assembler) pushLabel(name string) {
	a.op(vm.PUSH1)
	a.refs[len(a.code)] = name
	a.code = append(a.code, 0)
}

// label marks a jump destination.
func (a *assembler) label(name string) {
	a.labels[name] = len(a.code)
	a.op(vm.JUMPDEST)
}

func (a *assembler) bytes() []byte {
	for at, name := range a.refs {
		dest, ok := a.labels[name]
		if !ok {
			panic("undefined label " + name)
		}
		if dest > 0xff {
			panic("label out of PUSH1 range: " + name)
		}
		a.code[at] = byte(dest)
	}
	return a.code
}

// deployCode wraps runtime code in a constructor that returns it.
func deployCode(runtime []byte) []byte {
	const ctorSize = 13
	a := newAssembler()
	a.push16(uint16(len(runtime)))
	a.op(vm.DUP1)
	a.push16(ctorSize)
	a.push(0)
	a.op(vm.CODECOPY)
	a.push(0)
	a.op(vm.RETURN)
	if len(a.code) != ctorSize {
		panic("constructor size mismatch")
	}
	return append(a.code, runtime...)
}
