package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aretw0/warden/internal/presentation/tui"
	loamadapter "github.com/aretw0/warden/pkg/adapters/loam"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/aretw0/warden/pkg/ports"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and validate governance policies",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate [file-or-dir]",
	Short: "Check a policy file or directory for errors",
	Long: `Loads policies from a YAML file or a directory of markdown/JSON documents and
reports every invalid rule. Without an argument the configured source is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := loadPolicies(cmd, args)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d policies are valid\n", len(policies))
		return nil
	},
}

var policyListCmd = &cobra.Command{
	Use:   "list [file-or-dir]",
	Short: "List the active policies",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policies, err := loadPolicies(cmd, args)
		if err != nil {
			return err
		}
		return tui.PolicyTable(cmd.OutOrStdout(), policies)
	},
}

var policyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the built-in policies as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := governance.MarshalPolicies(governance.DefaultPolicies())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyValidateCmd, policyListCmd, policyExportCmd)
}

// loadPolicies reads policies from the path argument, the configured source, or the built-in set.
func loadPolicies(cmd *cobra.Command, args []string) ([]domain.Policy, error) {
	var loader ports.PolicyLoader
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			l, err := loamadapter.Open(args[0])
			if err != nil {
				return nil, err
			}
			loader = l
		} else {
			loader = governance.FileLoader{Path: args[0]}
		}
	} else {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		if loader, _, err = policyLoader(cfg); err != nil {
			return nil, err
		}
	}
	if loader == nil {
		return governance.DefaultPolicies(), nil
	}
	policies, err := loader.LoadPolicies(context.Background())
	if err != nil {
		return nil, err
	}
	if err := governance.ValidatePolicies(policies); err != nil {
		return nil, err
	}
	return policies, nil
}
