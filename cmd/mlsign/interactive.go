package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense/console"
)

type interactiveFlags struct {
	key        string
	keyDir     string
	outputDir  string
	accessible bool
}

func newInteractiveCmd(c *cli) *cobra.Command {
	var flags interactiveFlags
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Issue licenses through terminal forms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runInteractive(cmd, flags)
		},
	}
	cmd.Flags().StringVar(&flags.key, "key", "", "private key path; skips the key picker")
	cmd.Flags().StringVar(&flags.keyDir, "key-dir", c.cfg.KeyDir, "directory the key picker starts in (env MLICENSE_KEY_DIR)")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", ".", "directory offered for saved licenses")
	cmd.Flags().BoolVar(&flags.accessible, "accessible", false, "use plain prompts instead of full-screen forms")
	return cmd
}

// claimsInput is what the operator types into the claims form.
type claimsInput struct {
	machineID string
	username  string
	days      string
	expires   string
}

func (c *cli) runInteractive(cmd *cobra.Command, flags interactiveFlags) error {
	ctx := cmd.Context()
	l, release, err := c.openLedger(ctx)
	if err != nil {
		return err
	}
	defer release()

	host := &console.TerminalHost{
		Fs:         c.fs,
		KeyDir:     flags.keyDir,
		OutputDir:  flags.outputDir,
		Accessible: flags.accessible,
		Input:      cmd.InOrStdin(),
		Output:     cmd.OutOrStdout(),
	}
	s := console.NewSession(c.newBackend(host, l))

	if flags.key != "" {
		s.UseKey(flags.key)
	} else if _, err := s.SelectKey(ctx); err != nil {
		if errors.Is(err, mlicense.ErrCancelled) {
			cmd.Println("✗ no private key selected")
			return nil
		}
		return err
	}

	for {
		in := claimsInput{days: c.cfg.DefaultValidityDays}
		err := c.askClaims(ctx, host, &in)
		if errors.Is(err, mlicense.ErrCancelled) {
			return nil
		}
		if err != nil {
			return err
		}

		// Failures are shown and the operator decides whether to go on.
		if err := issueAndSave(ctx, cmd, s, in); err != nil {
			cmd.PrintErrf("✗ %v\n", err)
		}

		again := false
		confirm := huh.NewConfirm().
			Title("Issue another license?").
			Value(&again)
		if err := host.Run(ctx, huh.NewGroup(confirm)); err != nil || !again {
			return nil
		}
	}
}

func issueAndSave(ctx context.Context, cmd *cobra.Command, s *console.Session, in claimsInput) error {
	lic, err := s.Issue(ctx, in.machineID, in.username, in.days, in.expires)
	if err != nil {
		return err
	}
	path, err := s.Save(ctx, lic)
	if errors.Is(err, mlicense.ErrCancelled) {
		cmd.Println("✗ save cancelled, license discarded")
		return nil
	}
	if err != nil {
		return err
	}
	cmd.Printf("✔ license for %s written to: %s\n", lic.MachineID, path)
	return nil
}

func (c *cli) askClaims(ctx context.Context, host *console.TerminalHost, in *claimsInput) error {
	group := huh.NewGroup(
		huh.NewNote().
			Title("New license").
			Description("The license is bound to one machine identifier."),
		huh.NewInput().
			Title("Machine ID").
			Description("Output of mlverify --print-machine-id on the target machine").
			Value(&in.machineID).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return fmt.Errorf("machine ID is required")
				}
				return nil
			}),
		huh.NewInput().
			Title("Username").
			Value(&in.username),
		huh.NewInput().
			Title("Validity (days)").
			Value(&in.days),
		huh.NewInput().
			Title("Expires at").
			Description("Optional ISO-8601 timestamp; overrides the validity").
			Placeholder("2026-01-01T00:00:00.000Z").
			Value(&in.expires).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return nil
				}
				if _, err := mlicense.ParseTimestamp(strings.TrimSpace(s)); err != nil {
					return fmt.Errorf("not a valid timestamp")
				}
				return nil
			}),
	)
	return host.Run(ctx, group)
}
