package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/chainsafe/xchain-stake/pkg/app"
	apperrors "github.com/chainsafe/xchain-stake/pkg/app/errors"
	"github.com/chainsafe/xchain-stake/pkg/app/staker"
	"github.com/chainsafe/xchain-stake/pkg/config"
	"github.com/joho/godotenv"
	"golang.org/x/term"
)

var (
	configPath   = flag.String("config", "config.yaml", "Path to configuration file")
	envPath      = flag.String("env", ".env", "Path to an optional .env file")
	promptSecret = flag.Bool("prompt-secret", false, "Prompt for the mnemonic when "+config.MnemonicEnv+" is unset")
	dryRun       = flag.Bool("dry-run", false, "Estimate the batch without submitting it")
	skipBridge   = flag.Bool("skip-bridge", false, "Start from the current smart-account balance")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		os.Exit(apperrors.ExitCode(apperrors.ConfigurationError(err, "load env file")))
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}

	if *promptSecret && strings.TrimSpace(cfg.Wallet.Mnemonic) == "" {
		mnemonic, err := readSecret()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read mnemonic: %v\n", err)
			os.Exit(apperrors.ExitCode(apperrors.ConfigurationError(err, "read mnemonic")))
		}
		cfg.Wallet.Mnemonic = mnemonic
	}
	if *dryRun {
		cfg.Batch.DryRun = true
	}
	if *skipBridge {
		cfg.Bridge.Skip = true
	}

	var runner app.Runner = staker.NewServer(cfg)
	if err := runner.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		os.Exit(apperrors.ExitCode(err))
	}
}

// readSecret reads the mnemonic from the terminal without echo.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Mnemonic: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
