package suite

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/kr/pretty"
	"github.com/pkg/errors"
	"github.com/riddled-eth/riddled/debugapi"
)

// fault describes how one Riddled method fails.
type fault struct {
	method string
	op     vm.OpCode // last opcode executed
	// refunds is set when the failure keeps the unused gas. Before Byzantium
	// there was no REVERT, so every failure used up all gas.
	refunds bool
	// TestRPC rejects failing transactions at submission with one of these.
	sendErrors []string
}

var faults = []fault{
	{method: "doRevert", op: vm.REVERT, refunds: true, sendErrors: []string{"revert", "invalid opcode"}},
	{method: "doInvalid", op: vm.INVALID, sendErrors: []string{"invalid opcode"}},
	{method: "doBadJump", op: vm.JUMP, sendErrors: []string{"invalid JUMP at"}},
}

type receiptOutcome struct {
	Failed     bool
	AllGasUsed bool
}

// checkReceipt verifies the receipt of a mined failing transaction sent with
// maxGas. Pre-Byzantium receipts carry a state root instead of a status.
func (f fault) checkReceipt(r *types.Receipt, maxGas uint64) error {
	preByzantium := len(r.PostState) > 0
	got := receiptOutcome{
		Failed:     preByzantium || r.Status == types.ReceiptStatusFailed,
		AllGasUsed: r.GasUsed == maxGas,
	}
	want := receiptOutcome{Failed: true, AllGasUsed: preByzantium || !f.refunds}
	if got != want {
		return errors.Errorf("%s: unexpected receipt (gasUsed %d, maxGas %d):\n%s", f.method, r.GasUsed, maxGas, diff(want, got))
	}
	return nil
}

// checkSendError verifies an error returned while submitting the transaction.
// Only TestRPC is expected to reject failing transactions.
func (f fault) checkSendError(err error, isTestRPC bool) error {
	if !isTestRPC {
		return errors.Wrapf(err, "%s: transaction rejected", f.method)
	}
	msg := err.Error()
	for _, s := range f.sendErrors {
		if strings.Contains(msg, s) {
			return nil
		}
	}
	return errors.Errorf("%s: rejected with %q, want one of %q", f.method, msg, f.sendErrors)
}

type traceOutcome struct {
	ReturnValue string
	LastOp      string
}

// checkTrace verifies a debug_traceTransaction result of the failing transaction.
func (f fault) checkTrace(trace *debugapi.ExecutionResult) error {
	if trace == nil {
		return errors.Errorf("%s: no trace", f.method)
	}
	data, err := trace.ReturnData()
	if err != nil {
		return errors.Wrapf(err, "%s: bad return value", f.method)
	}
	step, ok := trace.LastStep()
	if !ok {
		return errors.Errorf("%s: trace has no steps", f.method)
	}
	got := traceOutcome{ReturnValue: hexutil.Encode(data), LastOp: step.Op}
	if f.matchOp(step.Op) {
		got.LastOp = f.op.String()
	}
	want := traceOutcome{ReturnValue: "0x", LastOp: f.op.String()}
	if got != want {
		return errors.Errorf("%s: unexpected trace:\n%s", f.method, diff(want, got))
	}
	return nil
}

// matchOp accepts the opcode name, or for undefined opcodes, any name
// mentioning its hex value such as "opcode 0xfe not defined".
func (f fault) matchOp(op string) bool {
	return op == f.op.String() || strings.Contains(strings.ToLower(op), fmt.Sprintf("0x%02x", byte(f.op)))
}

// diff returns a description of the differences between x and y.
func diff(x, y interface{}) (d string) {
	for _, l := range pretty.Diff(x, y) {
		d += l + "\n"
	}
	return d
}
