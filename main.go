package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/schizoid/markovbot/internal/config"
	"github.com/schizoid/markovbot/internal/importer"
	"github.com/schizoid/markovbot/internal/markov"
)

var errNoStarters = errors.New("no starter word candidates found")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "markovbot",
		Short:        "Per-server Markov chain text generator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	// withApp loads config, wires the app and closes it after run.
	var withApp appRunner = func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		newGenCommand(withApp),
		&cobra.Command{
			Use:   "import <tenant> <file>",
			Short: "Import a corpus; .json files hold an array of strings, anything else one sentence per line",
			Args:  cobra.ExactArgs(2),
			RunE:  withApp(runImport),
		},
		&cobra.Command{
			Use:   "forbid <tenant> <word>",
			Short: "Stop a word from being generated for a tenant",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				a.dirty = true
				return a.chain.Store().AddForbiddenWord(cmd.Context(), args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "allow <tenant> <word>",
			Short: "Allow a forbidden word again",
			Args:  cobra.ExactArgs(2),
			RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
				a.dirty = true
				return a.chain.Store().RemoveForbiddenWord(cmd.Context(), args[0], args[1])
			}),
		},
		&cobra.Command{
			Use:   "bot",
			Short: "Run the Discord bot",
			Args:  cobra.NoArgs,
			RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
				return runBot(cmd.Context(), a)
			}),
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run only the HTTP API",
			Args:  cobra.NoArgs,
			RunE:  withApp(runServe),
		},
	)
	return root
}

type appRunner func(run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

// newGenCommand builds `gen`. The bound may be given positionally or with
// --max-length; a negative positional bound has to follow "--".
func newGenCommand(withApp appRunner) *cobra.Command {
	var maxLength int
	cmd := &cobra.Command{
		Use:   "gen <tenant> [max-length]",
		Short: "Generate a sentence",
		Long: "Generate a sentence for a tenant. A max-length of zero or less, such as -1,\n" +
			"means no limit: pass it as --max-length -1 or after a separator (gen g -- -1).",
		Args: cobra.RangeArgs(1, 2),
	}
	cmd.Flags().IntVarP(&maxLength, "max-length", "n", 0, "maximum number of tokens, zero or less for no limit")
	cmd.RunE = withApp(func(cmd *cobra.Command, a *app, args []string) error {
		limit, err := genLimit(cmd, maxLength, args)
		if err != nil {
			return err
		}
		return runGen(cmd, a, args[0], limit)
	})
	return cmd
}

// genLimit resolves the bound from the flag or the positional argument.
func genLimit(cmd *cobra.Command, flagValue int, args []string) (int, error) {
	if len(args) < 2 {
		return flagValue, nil
	}
	if cmd.Flags().Changed("max-length") {
		return 0, errors.New("max-length given both as a flag and as an argument")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, fmt.Errorf("max-length must be an integer: %w", err)
	}
	return n, nil
}

func runGen(cmd *cobra.Command, a *app, tenant string, limit int) error {
	// WithMaxTokens treats zero or less as unbounded.
	text, err := a.chain.Generate(cmd.Context(), tenant, markov.WithMaxTokens(limit))
	if errors.Is(err, markov.ErrNoData) {
		return errNoStarters
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}

func runImport(cmd *cobra.Command, a *app, args []string) error {
	tenant, path := args[0], args[1]

	im := importer.New(a.chain, a.logger.Named("import"))
	stats, err := im.ImportFile(cmd.Context(), tenant, path)
	a.dirty = stats.Sentences > 0
	if err != nil {
		return err
	}

	a.logger.Info("import complete", zap.String("run_id", stats.RunID))
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d sentences (%d tokens, %d skipped) into %s\n",
		stats.Sentences, stats.Tokens, stats.Skipped, tenant)
	return err
}

func runServe(cmd *cobra.Command, a *app, _ []string) error {
	a.dirty = a.memory != nil
	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		a.runSnapshots(ctx)
		return nil
	})
	g.Go(func() error {
		return serveHTTP(ctx, a)
	})
	return g.Wait()
}
