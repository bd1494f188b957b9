// Command alarmd runs the alarm daemon: it owns the alarm queue, drives
// the event state machine and serves the message bus interface.
package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"bsid.es/alarmd"
	"bsid.es/alarmd/dbusif"
	"bsid.es/alarmd/hwrtc"
	"bsid.es/alarmd/mem"
	"bsid.es/alarmd/server"
	"bsid.es/alarmd/sqlite"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	db          string
	volatile    bool
	sessionOnly bool
	noRTC       bool
	logLevel    string
	logJSON     bool
}

func newCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "alarmd",
		Short:         "Alarm daemon",
		Long:          "alarmd schedules alarm events, persists them across reboots and\npresents them through the system UI dialog service.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVar(&opts.db, "db", "/var/lib/alarmd/queue.db", "path of the queue database")
	cmd.Flags().BoolVar(&opts.volatile, "volatile", false, "keep the queue in memory only")
	cmd.Flags().BoolVar(&opts.sessionOnly, "session-bus", false, "talk to peers on the session bus (development)")
	cmd.Flags().BoolVar(&opts.noRTC, "no-rtc", false, "do not program the hardware clock")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "info", "log level (trace..error)")
	cmd.Flags().BoolVar(&opts.logJSON, "log-json", false, "log JSON instead of console output")

	return cmd
}

// commandRunner hands alarm exec actions to a shell. Commands run
// detached so a stuck action cannot stall the state machine.
type commandRunner struct {
	log zerolog.Logger
}

func (r *commandRunner) RunCommand(command string) {
	cmd := exec.Command("/bin/sh", "-c", command)
	if err := cmd.Start(); err != nil {
		r.log.Error().Err(err).Str("command", command).Msg("cannot start alarm command")
		return
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			r.log.Warn().Err(err).Str("command", command).Msg("alarm command failed")
		}
	}()
}

func newLogger(opts *options) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return zerolog.Logger{}, alarmd.Errorf(alarmd.ErrInvalid, "log level %q: %v", opts.logLevel, err)
	}
	var out = os.Stderr
	log := zerolog.New(out)
	if !opts.logJSON {
		log = zerolog.New(zerolog.ConsoleWriter{Out: out})
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}

func run(opts *options) error {
	log, err := newLogger(opts)
	if err != nil {
		return err
	}

	var queue alarmd.Queue
	if opts.volatile {
		queue = mem.NewQueue()
	} else {
		dbq, err := sqlite.OpenQueue(opts.db)
		if err != nil {
			log.Error().Err(err).Str("db", opts.db).Msg("cannot open queue")
			return err
		}
		defer dbq.Close()
		queue = dbq
	}

	var rtc server.RTC
	if !opts.noRTC {
		rtc = &hwrtc.Clock{Log: log.With().Str("component", "hwrtc").Logger()}
	}

	engine := server.New(server.Options{
		Queue:  queue,
		Log:    log.With().Str("component", "server").Logger(),
		Runner: &commandRunner{log: log},
		RTC:    rtc,
	})

	bus, err := dbusif.Open(dbusif.Config{
		Engine:      engine,
		Log:         log.With().Str("component", "dbusif").Logger(),
		SessionOnly: opts.sessionOnly,
	})
	if err != nil {
		log.Error().Err(err).Msg("cannot connect to the message bus")
		return err
	}
	defer bus.Close()

	engine.AttachPeers(bus.Dialog(), bus.Sender(), bus.Power(), bus.Broadcast())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("bus dispatch stopped")
			stop()
		}
	}()

	log.Info().Str("db", opts.db).Bool("volatile", opts.volatile).Msg("alarmd running")
	engine.Run(ctx)
	log.Info().Msg("alarmd stopped")
	return nil
}
