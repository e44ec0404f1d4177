package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/golang/glog"

	"github.com/robotalks/uloader/pkg/config"
	fx "github.com/robotalks/uloader/pkg/framework"
	"github.com/robotalks/uloader/pkg/relay"
	"github.com/robotalks/uloader/pkg/rendezvous"
	"github.com/robotalks/uloader/pkg/serialport"
)

var (
	configFile string
	listenAddr = fmt.Sprintf("127.0.0.1:%d", config.DefaultSerialRelayPort)
	serialSpec string
	targetAddr string
)

func init() {
	if val := os.Getenv("ULOADER_PINHOLE_LISTEN"); val != "" {
		listenAddr = val
	}
	flag.StringVar(&configFile, "config", "", "TOML configuration file, overrides "+config.EnvConfigFile+".")
	flag.StringVar(&listenAddr, "listen", listenAddr, "Local address accepting the client.")
	flag.StringVar(&serialSpec, "serial", "", "Relay to serial port, port:baud:databits:parity:stopbits.")
	flag.StringVar(&targetAddr, "target", "", "Relay to network address host:port.")
}

func main() {
	flag.Parse()
	err := run()
	if err != nil {
		glog.Error(err)
	}
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if (serialSpec == "") == (targetAddr == "") {
		return fmt.Errorf("exactly one of -serial and -target is required")
	}

	abort := &fx.AbortFlag{}
	coordinator := fx.NewCoordinator()
	runner := fx.NewRunner().HandleSignals(abort)
	ctx, cancel := coordinator.WithShutdown(runner.Context)
	defer cancel()

	srv := &relay.Server{
		Session:     relay.NewSession(abort, coordinator),
		ReadTimeout: cfg.RelayReadTimeout,
	}
	if targetAddr != "" {
		srv.Dial = relay.NetworkTarget(targetAddr, cfg.RelayReadTimeout)
	} else {
		spec, err := serialport.ParseSpec(serialSpec)
		if err != nil {
			return err
		}
		srv.Dial = relay.SerialTarget(spec, cfg.RelayReadTimeout)

		if err = rendezvous.Acquire(ctx, cfg.RendezvousAddr, cfg.SettleDelay); err != nil {
			return err
		}
		holder, err := rendezvous.Listen(cfg.RendezvousAddr, func() {
			coordinator.RequestShutdown("serial port requested by another process")
		})
		if err != nil {
			return err
		}
		runner.GoWith(ctx, fx.NamedRun("rendezvous", fx.RunFunc(holder.Run)))
	}

	if srv.Listener, err = relay.Listen(listenAddr); err != nil {
		cancel()
		runner.Wait()
		return err
	}
	glog.Infof("pinhole: %s", srv.Listener.Addr())
	runner.GoWith(ctx, fx.NamedRun("relay", fx.RunFunc(func(ctx context.Context) error {
		defer coordinator.RequestShutdown("relay finished")
		return srv.Run(ctx)
	})))
	return runner.Wait()
}
