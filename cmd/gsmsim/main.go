// Command gsmsim runs a simulated GSM modem on a pseudo-terminal, so the
// gsmppp daemon can be exercised without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aymanbagabas/go-pty"
	"github.com/jaracil/gsmppp/simmodem"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
)

type options struct {
	PIN          string   `long:"pin" env:"GSMSIM_PIN" description:"Lock the SIM with this PIN"`
	Unregistered bool     `long:"unregistered" description:"Start without network registration"`
	GuardTime    int      `long:"guard-time" default:"20" description:"+++ guard time in 50ms units"`
	SMS          []string `long:"sms" description:"Preload an unread message as sender:body (repeatable)"`
	Echo         bool     `long:"echo" description:"Echo data mode traffic back to the host"`
	Debug        bool     `long:"debug" description:"Log every command line"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if opts.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	tty, err := pty.New()
	if err != nil {
		log.Fatal().Err(err).Msg("pty")
	}
	defer tty.Close()
	fmt.Printf("tty path: %s\n", tty.Name())

	config := &simmodem.Config{
		TTY:          tty,
		PIN:          opts.PIN,
		Unregistered: opts.Unregistered,
		GuardTime:    opts.GuardTime,
		Logger:       log,
		StatusTransition: func(_ *simmodem.Modem, prev, next simmodem.Status) {
			log.Info().Stringer("from", prev).Stringer("to", next).Msg("status change")
		},
		SendHook: func(to, body string) error {
			log.Info().Str("to", to).Str("body", body).Msg("SMS sent")
			return nil
		},
	}
	if opts.Echo {
		config.DataHook = func(m *simmodem.Modem, p []byte) {
			if err := m.Send(p); err != nil {
				log.Debug().Err(err).Msg("echo")
			}
		}
	}
	m, err := simmodem.New(config)
	if err != nil {
		log.Fatal().Err(err).Msg("simmodem")
	}
	defer m.Close()

	for _, s := range opts.SMS {
		sender, body, ok := strings.Cut(s, ":")
		if !ok {
			log.Warn().Str("sms", s).Msg("expected sender:body")
			continue
		}
		idx := m.Deliver(sender, body, time.Now())
		log.Info().Int("index", idx).Str("sender", sender).Msg("SMS stored")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	met := m.Metrics()
	log.Info().
		Int("tty_rx", met.TtyRxBytes).
		Int("tty_tx", met.TtyTxBytes).
		Int("conns", met.NumConns).
		Int("commands", met.NumCommands).
		Msg("closing")
}
