// Package riddled is a Go binding for the Riddled contract. Each of its
// functions fails in a different way:
//
//	doRevert()  - executes REVERT
//	doInvalid() - executes the designated invalid opcode 0xfe
//	doBadJump() - jumps to a location that is not a JUMPDEST
//
// The contract is small enough that its bytecode is assembled here instead of
// being compiled from Solidity.
package riddled

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
)

// RiddledABI is the contract interface.
const RiddledABI = `[
	{"constant":false,"inputs":[],"name":"doRevert","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[],"name":"doInvalid","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"},
	{"constant":false,"inputs":[],"name":"doBadJump","outputs":[],"payable":false,"stateMutability":"nonpayable","type":"function"}
]`

// BadJumpTarget is where doBadJump jumps to. The runtime code has CALLDATALOAD
// at that offset, so the jump is always invalid.
const BadJumpTarget = 0x02

var (
	parsedABI   abi.ABI
	runtimeCode []byte
	// RiddledBin is the deployment bytecode.
	RiddledBin []byte
)

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(RiddledABI))
	if err != nil {
		panic(err)
	}
	runtimeCode = assembleRuntime(parsedABI)
	RiddledBin = deployCode(runtimeCode)
}

// ABI returns the parsed contract interface.
func ABI() abi.ABI {
	return parsedABI
}

// RuntimeCode returns the code the contract has once deployed.
func RuntimeCode() []byte {
	return common.CopyBytes(runtimeCode)
}

// assembleRuntime lays out the dispatcher and one body per function.
// The selector is extracted with DIV rather than SHR so the code also runs
// on pre-Constantinople chains.
func assembleRuntime(parsed abi.ABI) []byte {
	a := newAssembler()

	// selector = calldata[0:32] / 2**224
	a.push(0)
	a.op(vm.CALLDATALOAD)
	a.push(append([]byte{0x01}, make([]byte, 28)...)...)
	a.op(vm.SWAP1, vm.DIV)

	for _, name := range []string{"doRevert", "doInvalid", "doBadJump"} {
		a.op(vm.DUP1)
		a.push(parsed.Methods[name].ID...)
		a.op(vm.EQ)
		a.pushLabel(name)
		a.op(vm.JUMPI)
	}
	// Unknown selector.
	a.push(0)
	a.op(vm.DUP1, vm.REVERT)

	a.label("doRevert")
	a.push(0)
	a.op(vm.DUP1, vm.REVERT)

	a.label("doInvalid")
	a.op(vm.INVALID)

	a.label("doBadJump")
	a.push(BadJumpTarget)
	a.op(vm.JUMP)

	return a.bytes()
}

// Riddled is a binding to a deployed Riddled contract.
type Riddled struct {
	Address  common.Address
	contract *bind.BoundContract
}

// Deploy sends the contract creation transaction. The contract is usable once
// the transaction is mined.
func Deploy(auth *bind.TransactOpts, backend bind.ContractBackend) (common.Address, *types.Transaction, *Riddled, error) {
	address, tx, contract, err := bind.DeployContract(auth, parsedABI, RiddledBin, backend)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	return address, tx, &Riddled{Address: address, contract: contract}, nil
}

// NewRiddled binds to an already deployed contract.
func NewRiddled(address common.Address, backend bind.ContractBackend) *Riddled {
	contract := bind.NewBoundContract(address, parsedABI, backend, backend, backend)
	return &Riddled{Address: address, contract: contract}
}

// DoRevert is a paid mutator transaction binding the contract method doRevert().
func (r *Riddled) DoRevert(opts *bind.TransactOpts) (*types.Transaction, error) {
	return r.contract.Transact(opts, "doRevert")
}

// DoInvalid is a paid mutator transaction binding the contract method doInvalid().
func (r *Riddled) DoInvalid(opts *bind.TransactOpts) (*types.Transaction, error) {
	return r.contract.Transact(opts, "doInvalid")
}

// DoBadJump is a paid mutator transaction binding the contract method doBadJump().
func (r *Riddled) DoBadJump(opts *bind.TransactOpts) (*types.Transaction, error) {
	return r.contract.Transact(opts, "doBadJump")
}

// Transact calls one of the contract methods by name.
func (r *Riddled) Transact(opts *bind.TransactOpts, method string) (*types.Transaction, error) {
	return r.contract.Transact(opts, method)
}
