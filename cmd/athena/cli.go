package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"athena/internal/config"
	"athena/internal/executor"
	"athena/internal/inventory/store"
	"athena/internal/logging"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// app holds state shared by every subcommand, resolved in the root
// PersistentPreRunE.
type app struct {
	cfg    *config.Config
	meta   config.Metadata
	store  *store.Store
	logger logging.Logger

	dbPath   string
	language string
	verbose  bool
	askPass  bool
	sshUser  string
	sshKey   string
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "athena",
		Short:         "AI-assisted infrastructure operations assistant",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.store != nil {
				_ = a.store.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "Inventory database path (default ~/.athena/athena.db)")
	rootCmd.PersistentFlags().StringVar(&a.language, "language", "", "Output language (en, fr)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(newRunCommand(a))
	rootCmd.AddCommand(newImportCommand(a))
	rootCmd.AddCommand(newHostsCommand(a))
	rootCmd.AddCommand(newSnapshotCommand(a))
	rootCmd.AddCommand(newSessionCommand(a))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// setup loads configuration and opens the store once per invocation.
func (a *app) setup() error {
	opts := []config.Option{}
	if a.dbPath != "" {
		opts = append(opts, config.WithOverride("database_path", a.dbPath))
	}
	if a.language != "" {
		opts = append(opts, config.WithOverride("language", a.language))
	}
	if a.verbose {
		opts = append(opts, config.WithOverride("verbose", true))
	}

	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return err
	}
	a.cfg, a.meta = cfg, meta

	if cfg.Verbose {
		a.logger = logging.Multi(logging.NewComponentLogger("cli"), logging.Stderr())
	} else {
		a.logger = logging.NewComponentLogger("cli")
	}

	path := cfg.DatabasePath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, ".athena", "athena.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	a.store, err = store.Default(path, a.logger)
	return err
}

// confirm prompts y/N on the terminal; a non-interactive session denies.
func (a *app) confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, yellow("non-interactive session, denying: "+prompt))
		return false
	}
	p := promptui.Prompt{Label: prompt, IsConfirm: true}
	result, err := p.Run()
	if err != nil {
		return false
	}
	return strings.EqualFold(result, "y") || strings.EqualFold(result, "yes")
}

// askUser relays a model question to the terminal.
func (a *app) askUser(prompt string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no interactive terminal for question: %s", prompt)
	}
	p := promptui.Prompt{Label: prompt}
	return p.Run()
}

// credentials builds the SSH credential provider from flags, reading the
// password masked when --ask-pass is set.
func (a *app) credentials() (executor.CredentialProvider, error) {
	if a.sshUser == "" && a.sshKey == "" && !a.askPass {
		return nil, nil
	}
	creds := executor.Credentials{User: a.sshUser, KeyPath: a.sshKey}
	if a.askPass {
		fmt.Fprint(os.Stderr, "SSH password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("read password: %w", err)
		}
		creds.Password = string(raw)
	}
	return executor.StaticCredentials{"*": creds}, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the athena version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("athena", version)
		},
	}
}

var version = "dev"
