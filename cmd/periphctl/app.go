package main

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"picoperiph/config"
	"picoperiph/errcode"
)

type app struct {
	cfgPath  string
	backend  string
	logLevel string

	out    io.Writer
	errOut io.Writer
	log    zerolog.Logger

	board *config.Board
	hw    backend
	// open is openBackend outside tests.
	open func(name string, h config.Host) (backend, error)

	// inShell keeps the board and buses open between shell lines.
	inShell bool
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, log: zerolog.Nop(), open: openBackend}
}

func (a *app) root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "periphctl",
		Short:         "Drive board peripherals from a Linux host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown()
		},
	}
	f := cmd.PersistentFlags()
	f.StringVarP(&a.cfgPath, "config", "c", "board.yaml", "board file")
	f.StringVar(&a.backend, "backend", "", "host backend, periph or rpio (default from the board file)")
	f.StringVar(&a.logLevel, "log-level", "info", "trace, debug, info, warn or error")

	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)
	cmd.AddCommand(a.deviceCommands()...)
	cmd.AddCommand(a.monitorCmd(), a.shellCmd())
	return cmd
}

// deviceCommands are the commands the shell accepts too.
func (a *app) deviceCommands() []*cobra.Command {
	return []*cobra.Command{
		a.rtcCmd(),
		a.envCmd(),
		a.eepromCmd(),
		a.at24Cmd(),
		a.sramCmd(),
		a.dacCmd(),
	}
}

func (a *app) setup() error {
	if a.board != nil {
		return nil
	}
	lvl, err := zerolog.ParseLevel(a.logLevel)
	if err != nil {
		return &errcode.E{C: errcode.InvalidParams, Op: "periphctl", Msg: "log level " + a.logLevel}
	}
	a.log = zerolog.New(consoleWriter(a.errOut)).Level(lvl).With().Timestamp().Logger()

	b, err := config.Load(a.cfgPath)
	if err != nil {
		a.log.Error().Err(err).Str("path", a.cfgPath).Msg("board not loaded")
		return err
	}
	if a.backend == "" {
		a.backend = b.Host.Backend
	}
	a.board = b
	a.log.Debug().Str("board", b.Name).Str("backend", a.backend).Msg("board loaded")
	return nil
}

func (a *app) teardown() error {
	if a.inShell || a.hw == nil {
		return nil
	}
	err := a.hw.Close()
	a.hw = nil
	return err
}

// buses opens the backend on first use so commands that only read the
// board never touch the hardware.
func (a *app) buses() (backend, error) {
	if a.hw != nil {
		return a.hw, nil
	}
	hw, err := a.open(a.backend, a.board.Host)
	if err != nil {
		return nil, err
	}
	a.hw = hw
	return hw, nil
}

func consoleWriter(w io.Writer) io.Writer {
	if f, ok := w.(*os.File); ok {
		return zerolog.ConsoleWriter{Out: colorable.NewColorable(f), TimeFormat: time.TimeOnly}
	}
	return zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.TimeOnly}
}
