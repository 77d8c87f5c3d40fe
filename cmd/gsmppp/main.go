package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jaracil/gsmppp"
	"github.com/jaracil/gsmppp/api"
	"github.com/jaracil/gsmppp/pppd"
	"github.com/jaracil/gsmppp/serialport"
	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog"
)

type options struct {
	Device      string        `short:"d" long:"device" env:"GSMPPP_DEVICE" default:"/dev/ttyUSB0" description:"Modem serial device"`
	Baud        int           `short:"b" long:"baud" env:"GSMPPP_BAUD" default:"115200" description:"Serial speed"`
	RTS         bool          `long:"rts" env:"GSMPPP_RTS" description:"Assert RTS when opening the port"`
	DTR         bool          `long:"dtr" env:"GSMPPP_DTR" description:"Assert DTR when opening the port"`
	APN         string        `short:"a" long:"apn" env:"GSMPPP_APN" default:"internet" description:"Access point name"`
	User        string        `short:"u" long:"user" env:"GSMPPP_USER" description:"PPP user name"`
	Password    string        `short:"p" long:"password" env:"GSMPPP_PASSWORD" description:"PPP password"`
	Connect     bool          `short:"c" long:"connect" env:"GSMPPP_CONNECT" description:"Connect as soon as the modem is initialized"`
	Wait        bool          `short:"w" long:"wait" description:"Wait for initialization before serving requests"`
	Debug       bool          `long:"debug" env:"GSMPPP_DEBUG" description:"Trace AT traffic"`
	TraceSerial bool          `long:"trace-serial" env:"GSMPPP_TRACE_SERIAL" description:"Log raw serial traffic at debug level"`
	SMSInterval time.Duration `long:"sms-interval" env:"GSMPPP_SMS_INTERVAL" default:"30s" description:"Unread SMS check period, 0 disables it"`
	Listen      string        `short:"l" long:"listen" env:"GSMPPP_LISTEN" description:"HTTP API listen address, empty disables the API"`
	PPPDPath    string        `long:"pppd" env:"GSMPPP_PPPD" default:"pppd" description:"pppd binary"`
	PPPDOptions []string      `long:"pppd-option" env:"GSMPPP_PPPD_OPTIONS" env-delim:"," description:"Extra pppd option (repeatable)"`
	LogLevel    string        `long:"log-level" env:"GSMPPP_LOG_LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	ListPorts   bool          `long:"list-ports" description:"List serial ports and exit"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.ListPorts {
		ports, err := serialport.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()

	if err := run(&opts, log); err != nil {
		log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func run(opts *options, log zerolog.Logger) error {
	hub := api.NewHub(log)
	pins := serialport.Pins{RTS: opts.RTS, DTR: opts.DTR}
	openPort := serialport.Opener(pins)
	if opts.TraceSerial {
		openPort = serialport.TracedOpener(pins, log)
	}
	m, err := gsmppp.New(&gsmppp.Config{
		Device:   opts.Device,
		BaudRate: opts.Baud,
		User:     opts.User,
		Password: opts.Password,
		APN:      opts.APN,
		OpenPort: openPort,
		NewSession: pppd.New(&pppd.Config{
			Path:    opts.PPPDPath,
			Options: opts.PPPDOptions,
			Logger:  log,
		}),
		StatusTransition: hub.StatusChanged,
		Logger:           log,
		Debug:            opts.Debug,
	})
	if err != nil {
		return err
	}
	if opts.SMSInterval > 0 {
		if err := m.SetSMSNotifier(hub, opts.SMSInterval); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("device", opts.Device).Str("apn", opts.APN).Msg("starting")
	if err := m.Init(opts.Wait, opts.Connect); err != nil {
		return err
	}

	var srv *http.Server
	if opts.Listen != "" {
		srv = &http.Server{
			Addr:              opts.Listen,
			Handler:           api.NewServer(m, hub, log).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Str("addr", opts.Listen).Msg("API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("API server")
				stop()
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("API shutdown")
		}
	}
	if err := m.Disconnect(true, false); err != nil {
		return err
	}
	return m.Err()
}
