package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"
	"github.com/pkg/errors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hubertat/rf4ch"
	"github.com/hubertat/rf4ch/api"
)

const defaultSyncInterval = "50ms"

var (
	Version string
	Build   string

	config       = flag.String("config", "config.json", "path of the configuration file (.json, .yaml or .yml)")
	flagInstall  = flag.Bool("install", false, "Install service in os")
	syncInterval = flag.String("sync", defaultSyncInterval, "input poll interval (time.Duration)")
	logFile      = flag.String("log-file", "", "write logs to this file, rotated, instead of stderr")
	debug        = flag.Bool("debug", false, "enable debug logging")

	rfService = servicemaker.ServiceMaker{
		User:               "rf4ch",
		UserGroups:         []string{"gpio", "i2c"},
		ServicePath:        "/etc/systemd/system/rf4ch.service",
		ServiceDescription: "rf4ch service: HomeKit, MQTT and HTTP enabled 4 channel RF switcher controller. github.com/hubertat/rf4ch",
		ExecDir:            "/srv/rf4ch",
		ExecName:           "rf4ch",
	}
)

func setupLogging() {
	var out io.Writer = os.Stderr
	if len(*logFile) > 0 {
		out = &lumberjack.Logger{
			Filename:   *logFile,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
	}

	level := log.InfoLevel
	if *debug {
		level = log.DebugLevel
	}

	log.SetDefault(log.NewWithOptions(out, log.Options{
		ReportTimestamp: true,
		Level:           level,
	}))
}

func main() {
	flag.Parse()
	setupLogging()
	log.Info("rf4ch started", "version", Version, "build", Build)

	if *flagInstall {
		err := rfService.InstallService()
		if err != nil {
			log.Fatal("service install failed", "err", err)
		}
		log.Info("service installed!")
		return
	}

	syncDuration, err := time.ParseDuration(*syncInterval)
	if err != nil {
		log.Fatal("invalid sync interval", "err", err)
	}

	kit, err := rf4ch.Load(*config)
	if err != nil {
		log.Fatal("can't load config, will terminate", "err", err)
	}
	if *debug {
		kit.HkDebug = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, kit, syncDuration)
	cancel()

	closeErr := kit.Close()
	if closeErr != nil {
		log.Error("shutdown incomplete", "err", closeErr)
	}
	if err != nil {
		log.Fatal("rf4ch failed", "err", err)
	}
	log.Info("rf4ch stopped")
}

// run starts every configured surface and blocks until ctx is done. The
// caller closes kit afterwards, also when run fails.
func run(ctx context.Context, kit *rf4ch.RfKit, syncDuration time.Duration) error {
	err := kit.InitHistory(ctx)
	if err != nil {
		log.Warn("history disabled", "err", err)
	}

	if len(kit.MqttBroker) > 0 {
		err = kit.InitMqtt(ctx)
		if err != nil {
			log.Warn("mqtt not connected yet, will keep retrying", "err", err)
		}
	}

	err = kit.InitSwitchers(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to init switchers")
	}

	err = kit.InitInputs(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to init inputs")
	}

	kit.PrintStatus(os.Stdout)

	if len(kit.Triggers) > 0 {
		go kit.StartTicker(ctx, syncDuration)
	}

	if len(kit.HttpAddress) > 0 {
		hub := api.NewHub(kit.Registry())
		kit.Observe(hub)
		server := api.New(kit.HttpAddress, kit.HttpJwtSecret, kit.Registry(), kit.Metrics(), hub)
		go func() {
			err := server.ListenAndServe(ctx)
			if err != nil {
				log.Error("http api stopped", "err", err)
			}
		}()
	}

	if len(kit.HkPin) == 8 {
		log.Info("Starting with HomeKit server")
		err = kit.StartHomeKit(ctx, Version)
		if err != nil {
			log.Error("HomeKit server stopped", "err", err)
		}
	} else {
		log.Info("HomeKit not configured, disabled")
	}

	<-ctx.Done()
	log.Info("rf4ch shutting down")
	return nil
}
