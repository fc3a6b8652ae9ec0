package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/CloudNativeWorks/cnw-machine-license/internal/config"
	"github.com/CloudNativeWorks/cnw-machine-license/mlicense"
)

type keygenFlags struct {
	outputDir     string
	pem           bool
	passphraseEnv string
	force         bool
	bits          int
}

func (f *keygenFlags) bind(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVarP(&f.outputDir, "output-dir", "o", cfg.KeyDir,
		"directory the key pair is written to (env MLICENSE_KEY_DIR)")
	fs.BoolVar(&f.pem, "pem", false,
		"write PEM encoded keys instead of DER")
	fs.StringVar(&f.passphraseEnv, "passphrase-env", "",
		"name of an environment variable holding a passphrase; the private key is written as encrypted PEM")
	fs.BoolVar(&f.force, "force", false,
		"overwrite an existing key pair")
	fs.IntVar(&f.bits, "bits", mlicense.DefaultKeyBits,
		"RSA key size in bits")
}

func newRootCmd(fs afero.Fs, cfg *config.Config) *cobra.Command {
	var flags keygenFlags
	cmd := &cobra.Command{
		Use:   "mlkeygen",
		Short: "Generate the RSA key pair used to sign machine licenses",
		Long: `mlkeygen creates an RSA key pair. The private key stays with the license
administrator; the public key ships with every verifier.`,
		Example: `  # DER key pair in ./keys
  mlkeygen --output-dir keys

  # Passphrase protected PEM private key
  MLICENSE_PASS=changeit mlkeygen --passphrase-env MLICENSE_PASS`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKeygen(cmd, fs, flags)
		},
	}
	flags.bind(cmd.Flags(), cfg)
	return cmd
}

func runKeygen(cmd *cobra.Command, fs afero.Fs, flags keygenFlags) error {
	opts := []mlicense.KeygenOption{mlicense.WithKeyBits(flags.bits)}
	switch {
	case flags.passphraseEnv != "":
		passphrase := os.Getenv(flags.passphraseEnv)
		if passphrase == "" {
			return fmt.Errorf("environment variable %s is empty", flags.passphraseEnv)
		}
		opts = append(opts, mlicense.WithPassphrase([]byte(passphrase)))
	case flags.pem:
		opts = append(opts, mlicense.WithEncoding(mlicense.EncodingPEM))
	}

	kp, err := mlicense.GenerateKeyPair(opts...)
	if err != nil {
		return err
	}

	privPath, pubPath, err := mlicense.WriteKeyPair(fs, flags.outputDir, kp, flags.force)
	if err != nil {
		return err
	}

	cmd.Printf("✔ private key written to: %s\n", privPath)
	cmd.Printf("✔ public key written to: %s\n", pubPath)
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	cmd := newRootCmd(afero.NewOsFs(), cfg)
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrf("✗ %v\n", err)
		os.Exit(1)
	}
}
