// Package crowdfund implements the crowdfund program: a campaign is activated
// exactly once, after its creator pays a fixed fee into a vault controlled by
// the program.
//
// The fee is moved by invoking a token program with the campaign's derived
// authority as co-signer. The token program's identity is pinned by Config;
// running with Config.Vulnerable reproduces the unpatched program, which trusts
// whatever token program the caller supplies.
package crowdfund

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fortiblox/x1-crowdfund/pkg/svm"
)

// Processor executes crowdfund instructions.
type Processor struct {
	cfg Config
	log *logrus.Entry
}

// NewProcessor creates a processor. cfg is copied and never changes.
func NewProcessor(cfg Config) *Processor {
	return &Processor{
		cfg: cfg,
		log: logrus.StandardLogger().WithField("type", "crowdfund/processor"),
	}
}

// Config returns the configuration the processor was created with.
func (p *Processor) Config() Config {
	return p.cfg
}

// Process implements svm.Program.
func (p *Processor) Process(ctx svm.InvokeContext, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}

	switch ix := ix.(type) {
	case EnableCampaign:
		ctx.Log(fmt.Sprintf("Instruction: EnableCampaign amount=%d", ix.Amount))
		return p.processEnableCampaign(ctx, ix.Amount)
	default:
		return ErrDecode
	}
}

func (p *Processor) processEnableCampaign(ctx svm.InvokeContext, amount uint64) error {
	accounts, err := parseEnableAccounts(ctx.Accounts())
	if err != nil {
		return err
	}

	log := p.log.WithFields(logrus.Fields{
		"campaign":   accounts.campaign.Key.String(),
		"vulnerable": p.cfg.Vulnerable,
	})

	if accounts.campaign.Owner != ctx.ProgramID() {
		return ErrInvalidCampaignData
	}
	campaign, err := UnmarshalCampaign(accounts.campaign.Data)
	if err != nil {
		log.WithError(err).Debug("failed to decode campaign")
		return ErrInvalidCampaignData
	}

	req := &enableRequest{
		cfg:       p.cfg,
		programID: ctx.ProgramID(),
		accounts:  accounts,
		campaign:  campaign,
		amount:    amount,
	}
	if err := req.validate(); err != nil {
		log.WithError(err).Debug("activation rejected")
		return err
	}

	if err := payFee(ctx, req); err != nil {
		log.WithError(err).Debug("fee transfer failed")
		return err
	}

	campaign.Enabled = true
	if err := campaign.MarshalInto(accounts.campaign.Data); err != nil {
		return ErrInvalidCampaignData
	}

	ctx.Log("Campaign enabled")
	log.WithField("token_program", accounts.tokenProgram.Key.String()).Debug("activation accepted")
	return nil
}
