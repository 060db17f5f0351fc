package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"codexec/internal/cli/command"
	"codexec/internal/cli/config"
	"codexec/internal/cli/repl"
	"codexec/internal/cli/state"
	"codexec/internal/client"
	"codexec/internal/common/auth"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/cli.yaml"

// errExecutionFailed marks a run whose record reports an error. The record
// has already been printed.
var errExecutionFailed = errors.New("execution failed")

type globalFlags struct {
	configPath string
	baseURL    string
	timeout    time.Duration
	token      string
	statePath  string
	retries    int
	pretty     bool
	raw        bool
}

// cliRuntime is what every subcommand needs after flags are resolved.
type cliRuntime struct {
	cfg        config.Config
	tokenState state.TokenState
	client     *client.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "codexec",
		Short:         "codexec - run untrusted snippets in a remote sandbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", defaultConfigPath, "Path to config file")
	pf.StringVar(&flags.baseURL, "base", "", "Override server base URL")
	pf.DurationVar(&flags.timeout, "timeout", 0, "Override HTTP timeout (e.g. 10s)")
	pf.StringVar(&flags.token, "token", "", "Override access token")
	pf.StringVar(&flags.statePath, "state", "", "Override token state path")
	pf.IntVar(&flags.retries, "retries", 0, "Override attempts per request")
	pf.BoolVar(&flags.pretty, "pretty", true, "Pretty print results (--pretty=false for compact output)")
	pf.BoolVar(&flags.raw, "raw", false, "Print the raw JSON record")

	root.AddCommand(
		newRunCmd(flags),
		newReplCmd(flags),
		newHealthCmd(flags),
		newTokenCmd(flags),
	)
	return root
}

func setup(cmd *cobra.Command, flags *globalFlags) (*cliRuntime, error) {
	cfg, err := config.Load(flags.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}
	if flags.timeout > 0 {
		cfg.Timeout = flags.timeout
	}
	if flags.statePath != "" {
		cfg.TokenStatePath = flags.statePath
	}
	if flags.retries > 0 {
		cfg.Retries = flags.retries
	}
	if cmd.Flags().Changed("pretty") {
		value := flags.pretty
		cfg.PrettyJSON = &value
	}

	tokenState, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		return nil, fmt.Errorf("load token state failed: %w", err)
	}
	if flags.token != "" {
		tokenState.AccessToken = flags.token
	}

	rt := &cliRuntime{cfg: cfg, tokenState: tokenState}
	policy := client.DefaultRetryPolicy()
	policy.Attempts = cfg.Retries
	rt.client = client.New(cfg.BaseURL,
		client.WithTimeout(cfg.Timeout),
		client.WithRetryPolicy(policy),
		client.WithTokenProvider(func() string { return rt.tokenState.AccessToken }),
	)
	return rt, nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var assignments []string
	var paramsFile string
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a snippet file; use - to read standard input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			code, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			params := command.Params{}
			if paramsFile != "" {
				if err := params.LoadFile(paramsFile); err != nil {
					return err
				}
			}
			if err := params.ParseAssignments(assignments); err != nil {
				return err
			}

			resp, err := rt.client.Execute(cmd.Context(), code, params)
			if err != nil {
				return err
			}
			if err := command.Render(cmd.OutOrStdout(), resp, flags.raw, *rt.cfg.PrettyJSON); err != nil {
				return err
			}
			if command.Failed(resp) {
				return errExecutionFailed
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&assignments, "param", "p", nil, "Parameter key=value (repeatable, values parsed as JSON when valid)")
	cmd.Flags().StringVar(&paramsFile, "params-file", "", "JSON object file with parameters")
	return cmd
}

func readSource(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin failed: %w", err)
		}
		return string(data), nil
	}
	return command.ReadFile(path)
}

func newReplCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			session := repl.New(rt.client, &rt.tokenState, rt.cfg.TokenStatePath, *rt.cfg.PrettyJSON, cmd.OutOrStdout())
			return session.Run(cmd.Context(), rt.cfg.HistoryFile)
		},
	}
}

func newHealthCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			if err := rt.client.Health(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}

func newTokenCmd(flags *globalFlags) *cobra.Command {
	var secret, issuer, subject, role string
	var ttl time.Duration
	var save bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for a server running with auth enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				secret = os.Getenv("CODEXEC_JWT_SECRET")
			}
			a, err := auth.NewAuthenticator(secret, issuer)
			if err != nil {
				return err
			}
			token, err := a.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			if save {
				rt, err := setup(cmd, flags)
				if err != nil {
					return err
				}
				if err := state.Save(rt.cfg.TokenStatePath, state.TokenState{AccessToken: token, UpdatedAt: time.Now().UTC()}); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (default $CODEXEC_JWT_SECRET)")
	cmd.Flags().StringVar(&issuer, "issuer", "codexec", "Token issuer")
	cmd.Flags().StringVar(&subject, "subject", "", "Caller identity")
	cmd.Flags().StringVar(&role, "role", "", "Caller role")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime, 0 for none")
	cmd.Flags().BoolVar(&save, "save", false, "Store the token in the state file")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
