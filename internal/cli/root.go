package cli

import (
	"fmt"
	"io"
	"slices"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/roach88/matchdb/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	Database   string
	ConfigPath string
	NoColor    bool
	History    bool
	UserID     int64

	config *config.Config
	logger *zap.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the matchdb CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "matchdb",
		Short: "matchdb - fragment match store",
		Long: `Inspect and edit a store of fragment matches.

Every match relates a source and a target fragment through a 4x4
transformation. Attribute fields are added and removed at runtime; each
field lives in its own table, and meta fields are views over the others.

The database is a sqlite file path, a postgres:// or sqlserver:// URL, or a
YAML descriptor file. It is taken from --db, the config file or
MATCHDB_DATABASE, in that order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path, URL or descriptor file")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	cmd.PersistentFlags().BoolVar(&opts.History, "history", false, "record attribute changes")
	cmd.PersistentFlags().Int64Var(&opts.UserID, "user", 0, "user id recorded with history entries")

	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewFieldCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// setup validates the flags and merges them over the loaded configuration.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid format %q: must be one of %v", o.Format, ValidFormats))
	}

	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "could not load configuration", err)
	}
	o.config = cfg

	flags := cmd.Flags()
	if !flags.Changed("db") {
		o.Database = cfg.Database
	}
	if !flags.Changed("history") {
		o.History = cfg.TrackHistory
	}
	if !flags.Changed("user") {
		o.UserID = cfg.UserID
	}

	if o.NoColor {
		color.NoColor = true
	}

	level, _ := cfg.Level()
	if o.Verbose {
		level = zapcore.DebugLevel
	}
	o.logger = newLogger(cmd.ErrOrStderr(), level)
	return nil
}

// Logger returns the logger built by setup, or a no-op logger before it.
func (o *RootOptions) Logger() *zap.Logger {
	if o.logger == nil {
		return zap.NewNop()
	}
	return o.logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newLogger writes development-style console logs at level to w.
func newLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	if !color.NoColor {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), level)
	return zap.New(core)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
