package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/vk/formulagrid/internal/app"
	"github.com/vk/formulagrid/internal/config"
	"github.com/vk/formulagrid/internal/ctxlog"
)

// Exit codes.
const (
	CodeFailure = 1
	CodeUsage   = 2
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: CodeUsage, Message: fmt.Sprintf(format, args...)}
}

// options collects the raw flag values before they are merged with the run
// file.
type options struct {
	configPath string

	base       string
	overlay    string
	formulas   string
	startPoint string
	output     string
	graph      string
	targets    []string
	workers    int
	partial    bool

	logLevel  string
	logFormat string

	publishURL       string
	publishNamespace string
	publishInsecure  bool
	publishTimeout   time.Duration

	metricsFile string
}

// Execute runs the command line in args. Help output and results go to outW,
// logs go to errW. Every returned error is an *ExitError.
func Execute(ctx context.Context, fs afero.Fs, args []string, outW, errW io.Writer) error {
	root := NewRootCommand(fs, outW, errW)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	// unknown commands and argument count errors come from cobra itself
	return &ExitError{Code: CodeUsage, Message: err.Error()}
}

// NewRootCommand builds the command tree.
func NewRootCommand(fs afero.Fs, outW, errW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "formulagrid",
		Short: "Resolve formula-defined variables over tabular data",
		Long: `formulagrid evaluates a set of formulas ("name = expression", one per line)
over variables loaded from wide CSV files. Each variable is resolved from the
overlay data first, then the base data, then its formula. Formulas may use
arithmetic and the built-in series functions (lag, diff, ret, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(errW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%v", err)
	})

	root.AddCommand(newResolveCommand(fs, errW), newGraphCommand(fs, errW))
	return root
}

func newResolveCommand(fs afero.Fs, logW io.Writer) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "resolve [FORMULAS]",
		Short: "Resolve variables and write the results",
		Long: `Resolve every variable (or only --target and its dependencies) and write
the resolved series to --output in the same wide CSV layout as the input.

Examples:
  formulagrid resolve --base base.csv model.formulas
  formulagrid resolve --config run.hcl --target x2 --workers 4
  formulagrid resolve --base base.csv --overlay scenario.csv -o out.csv model.formulas`,
		Args: maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, fs, o, args)
			if err != nil {
				return err
			}
			a := app.NewApp(logW, cfg, app.WithFs(fs))
			res, err := a.Run(cmd.Context())
			if res != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d resolved, %d failed\n", res.RunID, len(res.Values), len(res.Errors))
			}
			if err != nil {
				return &ExitError{Code: CodeFailure, Message: err.Error()}
			}
			return nil
		},
	}

	bindCommon(cmd, o)
	flags := cmd.Flags()
	flags.StringVar(&o.base, "base", "", "Path to the base data CSV.")
	flags.StringVar(&o.overlay, "overlay", "", "Path to the overlay data CSV; its values win over the base data.")
	flags.StringVar(&o.startPoint, "start-point", "", "Drop data columns before this column label.")
	flags.StringVarP(&o.output, "output", "o", "", "Write resolved series to this CSV file.")
	flags.StringVar(&o.graph, "graph", "", "Write the annotated dependency graph to this DOT file.")
	flags.StringSliceVarP(&o.targets, "target", "t", nil, "Resolve only these variables and their dependencies. Repeatable.")
	flags.IntVarP(&o.workers, "workers", "w", 1, "Number of concurrent workers. 1 resolves sequentially.")
	flags.BoolVar(&o.partial, "allow-partial", false, "Succeed even when some variables fail to resolve.")
	flags.StringVar(&o.publishURL, "publish-url", "", "Publish results to this socket.io server.")
	flags.StringVar(&o.publishNamespace, "publish-namespace", "", "socket.io namespace to publish to.")
	flags.BoolVar(&o.publishInsecure, "publish-insecure", false, "Skip TLS certificate verification when publishing.")
	flags.DurationVar(&o.publishTimeout, "publish-timeout", 0, "How long to wait for the publish connection.")
	flags.StringVar(&o.metricsFile, "metrics-file", "", "Write run metrics to this Prometheus textfile.")
	return cmd
}

func newGraphCommand(fs afero.Fs, logW io.Writer) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "graph [FORMULAS]",
		Short: "Print the formula dependency graph in DOT format",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := buildConfig(cmd, fs, o, args)
			if err != nil {
				return err
			}
			a := app.NewApp(logW, cfg, app.WithFs(fs))

			w := cmd.OutOrStdout()
			if cfg.GraphPath != "" {
				f, err := fs.Create(cfg.GraphPath)
				if err != nil {
					return &ExitError{Code: CodeFailure, Message: err.Error()}
				}
				defer f.Close()
				w = f
			}
			if err := a.Graph(cmd.Context(), w); err != nil {
				return &ExitError{Code: CodeFailure, Message: err.Error()}
			}
			return nil
		},
	}

	bindCommon(cmd, o)
	cmd.Flags().StringVarP(&o.graph, "output", "o", "", "Write the graph to this file instead of stdout.")
	return cmd
}

func bindCommon(cmd *cobra.Command, o *options) {
	flags := cmd.Flags()
	flags.StringVarP(&o.configPath, "config", "c", "", "Path to an HCL run file or a directory of them.")
	flags.StringVarP(&o.formulas, "formulas", "f", "", "Path to the formulas file.")
	flags.StringVar(&o.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flags.StringVar(&o.logFormat, "log-format", "json", "Log output format. Options: 'text' or 'json'.")
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) > n {
			return usageError("accepts at most %d argument(s), received %d", n, len(args))
		}
		return nil
	}
}

// buildConfig starts from the run file, if any, and applies every flag the
// user set explicitly on top of it.
func buildConfig(cmd *cobra.Command, fs afero.Fs, o *options, args []string) (*app.Config, error) {
	logger := ctxlog.FromContext(cmd.Context())
	var cfg app.Config

	if o.configPath != "" {
		file, err := config.Load(cmd.Context(), fs, o.configPath)
		if err != nil {
			return nil, usageError("%v", err)
		}
		cfg, err = app.ConfigFromFile(file)
		if err != nil {
			return nil, usageError("%v", err)
		}
		logger.Debug("Run file loaded.", "path", o.configPath)
	}

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("base", func() { cfg.BasePath = o.base })
	set("overlay", func() { cfg.OverlayPath = o.overlay })
	set("formulas", func() { cfg.FormulasPath = o.formulas })
	set("start-point", func() { cfg.StartPoint = o.startPoint })
	set("target", func() { cfg.Targets = o.targets })
	set("workers", func() { cfg.Workers = o.workers })
	set("allow-partial", func() { cfg.AllowPartial = o.partial })
	set("log-level", func() { cfg.LogLevel = o.logLevel })
	set("log-format", func() { cfg.LogFormat = o.logFormat })
	set("publish-url", func() { cfg.PublishURL = o.publishURL })
	set("publish-namespace", func() { cfg.PublishNamespace = o.publishNamespace })
	set("publish-insecure", func() { cfg.PublishInsecure = o.publishInsecure })
	set("publish-timeout", func() { cfg.PublishConnectTimeout = o.publishTimeout })
	set("metrics-file", func() { cfg.MetricsFile = o.metricsFile })
	if cmd.Name() == "graph" {
		set("output", func() { cfg.GraphPath = o.graph })
	} else {
		set("output", func() { cfg.OutputPath = o.output })
		set("graph", func() { cfg.GraphPath = o.graph })
	}

	if len(args) > 0 {
		if flags.Changed("formulas") {
			return nil, usageError("formulas given both as --formulas and as an argument")
		}
		cfg.FormulasPath = args[0]
	}

	// the graph command never resolves, so run-only settings are ignored
	if cmd.Name() == "graph" {
		cfg = app.Config{
			FormulasPath: cfg.FormulasPath,
			GraphPath:    cfg.GraphPath,
			LogLevel:     cfg.LogLevel,
			LogFormat:    cfg.LogFormat,
		}
	}

	validated, err := app.NewConfig(cfg)
	if err != nil {
		return nil, usageError("%v", err)
	}
	logger.Debug("CLI parameter validation complete.", "formulas", validated.FormulasPath)
	return validated, nil
}
