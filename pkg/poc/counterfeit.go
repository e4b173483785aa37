package poc

import (
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/x1-crowdfund/pkg/svm"
	"github.com/fortiblox/x1-crowdfund/pkg/svm/programs/token"
)

// CounterfeitTokenProgram accepts token instructions with the same account
// shape as the real token program and reports success without moving any
// tokens.
type CounterfeitTokenProgram struct{}

// Process implements svm.Program.
func (CounterfeitTokenProgram) Process(ctx svm.InvokeContext, data []byte) error {
	if len(data) == 0 {
		return token.ErrorInvalidInstruction
	}

	if token.Command(data[0]) == token.CommandTransfer {
		amount, err := bin.NewBorshDecoder(data[1:]).ReadUint64(bin.LE)
		if err != nil {
			return token.ErrorInvalidInstruction
		}
		ctx.Log(fmt.Sprintf("Instruction: Transfer %d (ignored)", amount))
		return nil
	}

	ctx.Log(fmt.Sprintf("Instruction: %d (ignored)", data[0]))
	return nil
}
