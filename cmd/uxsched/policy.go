package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomasbasham/uxsched/internal/policyfile"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect overlay policy files",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Validate a policy and print the effective tunables",
	Long: `Loads a policy file on top of the built-in defaults, validates it and
prints the resulting snapshot. Keys absent from the file show their default.`,
	Args: cobra.ExactArgs(1),
	RunE: runPolicyCheck,
}

func init() {
	policyCmd.AddCommand(policyCheckCmd)
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	cfg, err := policyfile.Load(args[0])
	if err != nil {
		return err
	}
	out, err := policyfile.Marshal(cfg)
	if err != nil {
		return err
	}
	logger.Debug("policy valid", zap.String("path", args[0]), zap.Int("name_rules", len(cfg.NameRules)))

	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
