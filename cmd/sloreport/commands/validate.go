package commands

import (
	"context"
	"fmt"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/slok/sloreport/internal/log"
	"github.com/slok/sloreport/internal/storage/fs"
)

type validateCommand struct {
	slosInput   string
	policyInput string
}

// NewValidateCommand returns the validate command.
func NewValidateCommand(app *kingpin.Application) Command {
	c := &validateCommand{}
	cmd := app.Command("validate", "Validates the SLO configs and the error budget policy.")
	cmd.Flag("input", "SLO config input path, a single file or a directory of `slo_*.yaml` files.").Short('i').Required().StringVar(&c.slosInput)
	cmd.Flag("policy", "Error budget policy file path.").Short('p').Default("error_budget_policy.yaml").StringVar(&c.policyInput)

	return c
}

func (v validateCommand) Name() string { return "validate" }
func (v validateCommand) Run(ctx context.Context, config RootConfig) error {
	logger := config.Logger

	loader := fs.NewConfigLoader(logger)

	slos, err := loader.LoadSLOsFromPath(ctx, v.slosInput)
	if err != nil {
		return fmt.Errorf("could not load SLO configs: %w", err)
	}

	policy, err := loader.LoadErrorBudgetPolicyFromPath(ctx, v.policyInput)
	if err != nil {
		return fmt.Errorf("could not load error budget policy: %w", err)
	}

	logger.WithValues(log.Kv{"slo-configs": len(slos), "policy-steps": len(policy.Steps)}).Infof("Validation succeeded")

	return nil
}
