package main

import (
	"os"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/console"
)

type issueFlags struct {
	key       string
	machineID string
	username  string
	days      string
	expires   string
	output    string
	force     bool
}

func newIssueCmd(c *cli) *cobra.Command {
	var flags issueFlags
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a license from command-line flags",
		Example: `  # One year license for a machine
  mlsign issue --key keys/private_key.der --machine-id 3f1c... --username alice

  # Fixed expiry, written to a directory
  mlsign issue --key keys/private_key.der --machine-id 3f1c... --expires 2026-01-01T00:00:00.000Z -o licenses/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runIssue(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.key, "key", "", "path to the private key")
	cmd.Flags().StringVar(&flags.machineID, "machine-id", "", "machine identifier printed by mlverify --print-machine-id")
	cmd.Flags().StringVar(&flags.username, "username", "", "licensee name")
	cmd.Flags().StringVar(&flags.days, "days", c.cfg.DefaultValidityDays,
		"validity in days; non-numeric values fall back to 365 (env MLICENSE_DEFAULT_VALIDITY_DAYS)")
	cmd.Flags().StringVar(&flags.expires, "expires", "", "explicit expiry timestamp, overrides --days")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output file or directory (defaults to the current directory)")
	cmd.Flags().BoolVar(&flags.force, "force", false, "overwrite an existing license file")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("machine-id")
	return cmd
}

func (c *cli) runIssue(cmd *cobra.Command, flags issueFlags) error {
	ctx := cmd.Context()
	l, release, err := c.openLedger(ctx)
	if err != nil {
		return err
	}
	defer release()

	host := &console.StaticHost{
		Fs:        c.fs,
		KeyPath:   flags.key,
		Overwrite: flags.force,
	}
	if isOutputDir(c.fs, flags.output) {
		host.OutputDir = flags.output
	} else {
		host.OutputFile = flags.output
	}
	s := console.NewSession(c.newBackend(host, l))

	if _, err := s.SelectKey(ctx); err != nil {
		return err
	}
	lic, err := s.Issue(ctx, flags.machineID, flags.username, flags.days, flags.expires)
	if err != nil {
		return err
	}
	path, err := s.Save(ctx, lic)
	if err != nil {
		return err
	}

	cmd.Printf("✔ license for %s written to: %s\n", lic.MachineID, path)
	cmd.Printf("  expires: %s\n", lic.ExpiresAt)
	return nil
}

// isOutputDir reports whether --output names a directory: empty, an
// existing directory, or a path ending in a separator.
func isOutputDir(fs afero.Fs, output string) bool {
	if output == "" || strings.HasSuffix(output, "/") || strings.HasSuffix(output, string(os.PathSeparator)) {
		return true
	}
	isDir, _ := afero.IsDir(fs, output)
	return isDir
}
