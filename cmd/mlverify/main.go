package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/CloudNativeWorks/cnw-machine-license/internal/logging"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

// Exit codes.
const (
	exitOK      = 0
	exitInvalid = 1
	exitUsage   = 2
)

type verifyFlags struct {
	printMachineID bool
	verify         bool
	license        string
	pub            string
	debug          bool
}

func (f *verifyFlags) bind(fs *pflag.FlagSet) {
	fs.BoolVar(&f.printMachineID, "print-machine-id", false,
		"print this machine's identifier and exit")
	fs.BoolVar(&f.verify, "verify", false,
		"verify a license file against this machine")
	fs.StringVar(&f.license, "license", "",
		"path to the license file (with --verify)")
	fs.StringVar(&f.pub, "pub", "",
		"path to the public key, SPKI DER or PEM (with --verify)")
	fs.BoolVar(&f.debug, "debug", false,
		"log verification details to stderr")
}

// verifier holds what a verification run depends on.
type verifier struct {
	fs       afero.Fs
	identity mlicense.MachineIdentity
	now      func() time.Time
}

func (v *verifier) newRootCmd() *cobra.Command {
	var flags verifyFlags
	cmd := &cobra.Command{
		Use:   "mlverify",
		Short: "Check that a license is valid for this machine",
		Example: `  # Identifier to send to the license administrator
  mlverify --print-machine-id

  # Verify a license
  mlverify --verify --license license.json --pub public_key.der`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unexpected argument %q", mlicense.ErrUsage, args[0])
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return v.run(cmd, flags)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", mlicense.ErrUsage, err)
	})
	flags.bind(cmd.Flags())
	return cmd
}

func (v *verifier) run(cmd *cobra.Command, flags verifyFlags) error {
	switch {
	case flags.printMachineID && flags.verify:
		return fmt.Errorf("%w: --print-machine-id and --verify cannot be combined", mlicense.ErrUsage)
	case flags.printMachineID:
		id, err := v.identity.ID()
		if err != nil {
			return fmt.Errorf("machine identity: %w", err)
		}
		cmd.Println(id)
		return nil
	case flags.verify:
		if flags.license == "" || flags.pub == "" {
			return fmt.Errorf("%w: --verify requires --license and --pub", mlicense.ErrUsage)
		}
		return v.verify(cmd, flags)
	default:
		return fmt.Errorf("%w: one of --print-machine-id or --verify is required", mlicense.ErrUsage)
	}
}

func (v *verifier) verify(cmd *cobra.Command, flags verifyFlags) error {
	level := "warn"
	if flags.debug {
		level = "debug"
	}
	log, err := logging.NewWithOutput(cmd.ErrOrStderr(), level, "text")
	if err != nil {
		return err
	}

	id, err := v.identity.ID()
	if err != nil {
		return fmt.Errorf("machine identity: %w", err)
	}
	log.WithFields(logrus.Fields{
		"license":   flags.license,
		"pub":       flags.pub,
		"machineId": id,
	}).Debug("verifying license")

	lic, err := mlicense.NewVerifier(mlicense.WithFs(v.fs), mlicense.WithClock(v.now)).
		VerifyFile(flags.license, flags.pub, id)
	log.WithField("outcome", mlicense.OutcomeOf(err)).Debug("verification finished")
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"username":  lic.Username,
		"expiresAt": lic.ExpiresAt,
	}).Debug("license accepted")

	cmd.Println("OK")
	return nil
}

// execute runs the command and maps the result to an exit code. Output
// other than the machine id and "OK" goes to stderr.
func (v *verifier) execute(args []string, stdout, stderr io.Writer) int {
	cmd := v.newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, mlicense.ErrUsage):
		fmt.Fprintf(stderr, "✗ %v\n\n%s", err, cmd.UsageString())
		return exitUsage
	default:
		fmt.Fprintf(stderr, "✗ %v\n", err)
		return exitInvalid
	}
}

func main() {
	v := &verifier{
		fs:       afero.NewOsFs(),
		identity: mlicense.DefaultIdentity(),
		now:      time.Now,
	}
	os.Exit(v.execute(os.Args[1:], os.Stdout, os.Stderr))
}
