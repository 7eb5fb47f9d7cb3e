// ABOUTME: Cobra command tree for trackbridge
// ABOUTME: Loads configuration, sets up logging and dispatches play and probe
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/trackbridge/internal/app"
	"github.com/Resonate-Protocol/trackbridge/internal/config"
	"github.com/Resonate-Protocol/trackbridge/internal/version"
	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultLogFile = "trackbridge.log"

// state shared by the commands of one tree
type state struct {
	v          *viper.Viper
	configFile string
	logFile    string
	cfg        config.Config
	closeLog   func()
}

// NewRootCommand builds the trackbridge command tree. The root command
// plays like the play subcommand.
func NewRootCommand() *cobra.Command {
	st := &state{v: viper.New(), closeLog: func() {}}
	config.SetDefaults(st.v)

	root := &cobra.Command{
		Use:               "trackbridge [file]",
		Short:             "Play audio through a negotiated device buffer",
		Long:              "trackbridge decodes a file (or a test tone) and streams it through an output device whose buffer size is negotiated against the device minimum.",
		Version:           version.Version,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: st.load,
		PersistentPostRun: func(*cobra.Command, []string) { st.closeLog() },
		RunE:              st.play,
	}
	root.SetVersionTemplate(version.Product + " {{.Version}}\n")
	root.PersistentFlags().StringVar(&st.configFile, "config", "", "config file (default ./trackbridge.yaml)")
	root.PersistentFlags().StringVar(&st.logFile, "log-file", defaultLogFile, "log file used while the TUI is shown")
	root.PersistentFlags().AddFlagSet(config.Flags())

	root.AddCommand(
		&cobra.Command{
			Use:   "play [file]",
			Short: "Play a file, or a 440Hz tone when no file is given",
			Args:  cobra.MaximumNArgs(1),
			RunE:  st.play,
		},
		newProbeCommand(st),
		&cobra.Command{
			Use:   "devices",
			Short: "List output device backends",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				for _, name := range output.Backends() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
			},
		},
	)
	return root
}

// NewProbeCommand builds a standalone probe command
func NewProbeCommand() *cobra.Command {
	st := &state{v: viper.New(), closeLog: func() {}}
	config.SetDefaults(st.v)

	cmd := newProbeCommand(st)
	cmd.Use = "bridge-probe"
	cmd.Version = version.Version
	cmd.SilenceUsage = true
	cmd.PreRunE = st.load
	cmd.Flags().StringVar(&st.configFile, "config", "", "config file (default ./trackbridge.yaml)")
	cmd.Flags().AddFlagSet(config.Flags())
	return cmd
}

// Execute runs the root command with signal handling
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// load reads configuration and installs the default logger
func (st *state) load(cmd *cobra.Command, args []string) error {
	fs := cmd.Flags()
	if err := config.BindFlags(st.v, fs); err != nil {
		return err
	}
	if f := fs.Lookup("no-tui"); f != nil && f.Changed {
		st.v.Set(config.KeyTUI, f.Value.String() != "true")
	}
	if len(args) > 0 {
		st.v.Set(config.KeyInput, args[0])
	}
	if err := config.ReadInConfig(st.v, st.configFile); err != nil {
		return err
	}

	cfg, err := config.Load(st.v)
	if err != nil {
		return err
	}
	st.cfg = cfg

	return st.setupLogging(cmd)
}

// setupLogging writes to stderr, or to the log file while the TUI owns
// the terminal
func (st *state) setupLogging(cmd *cobra.Command) error {
	var w io.Writer = cmd.ErrOrStderr()
	if st.cfg.TUI && cmd.Name() != "probe" && cmd.Name() != "bridge-probe" && cmd.Name() != "devices" {
		f, err := os.OpenFile(st.logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = f
		st.closeLog = func() { _ = f.Close() }
	}

	log.SetDefault(log.NewWithOptions(w, log.Options{
		Level:           st.cfg.LogLevel,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	}))
	return nil
}

func (st *state) play(cmd *cobra.Command, _ []string) error {
	log.Info("Starting", "version", version.String(), "device", st.cfg.Device, "format", st.cfg.Format)
	return app.New(st.cfg).Run(cmd.Context())
}
