package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/uloader/pkg/bootstrap"
	"github.com/robotalks/uloader/pkg/config"
	fx "github.com/robotalks/uloader/pkg/framework"
	"github.com/robotalks/uloader/pkg/relay"
	"github.com/robotalks/uloader/pkg/report"
)

const (
	exitOK     = 0
	exitFailed = 2
)

var (
	configFile string
	mqttURL    string
	noLaunch   bool
	relayPath  string
)

func init() {
	flag.StringVar(&configFile, "config", "", "TOML configuration file, overrides "+config.EnvConfigFile+".")
	flag.StringVar(&mqttURL, "mqtt", "", "MQTT broker URL for progress events, overrides "+config.EnvMQTTURL+".")
	flag.BoolVar(&noLaunch, "no-launch", false, "Do not start the serial relay and terminal after boot.")
	flag.StringVar(&relayPath, "pinhole", os.Getenv("ULOADER_PINHOLE"), "Path to the pinhole relay executable.")
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] %s\n", os.Args[0], bootstrap.Usage)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	code := run()
	glog.Flush()
	os.Exit(code)
}

func run() int {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return exitFailed
	}
	if mqttURL != "" {
		cfg.MQTTURL = mqttURL
	}

	params, err := bootstrap.ParseArgs(flag.Args())
	if err != nil {
		usage()
		return exitFailed
	}
	s, err := bootstrap.NewSession(params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return exitFailed
	}
	defer s.Close()
	s.Out = os.Stdout

	abort := &fx.AbortFlag{}
	s.Abort = abort
	runner := fx.NewRunner().HandleSignals(abort)

	pipeline := bootstrap.NewPipeline(cfg, s)
	var pub *report.Publisher
	if cfg.MQTTURL != "" {
		p, q, err := report.Dial(cfg.MQTTURL, 5*time.Second)
		if err != nil {
			glog.Warningf("progress reporting disabled: %v", err)
		} else {
			defer q.Close()
			pub = p
			pipeline.Observer = pub
		}
	}

	glog.Infof("run %s: %s", s.ID, s.ImageName)
	fmt.Fprintln(os.Stdout)
	err = pipeline.Execute(runner.Context, s)
	if pub != nil {
		pub.RunFinished(s, err)
	}
	switch {
	case err == nil:
	case bootstrap.IsAborted(err):
		glog.Infof("run %s aborted", s.ID)
		return exitFailed
	case bootstrap.IsConfigError(err):
		fmt.Fprintf(os.Stderr, "    ERROR: %v\n", err)
		return exitFailed
	default:
		fmt.Fprintln(os.Stderr, "    ERROR: Image not loaded / executed on target")
		fmt.Fprintln(os.Stderr, "    ERROR: Please cycle power to the target and try again.")
		fmt.Fprintln(os.Stderr, "            OR")
		fmt.Fprintln(os.Stderr, "           If you have already reset the target once, just try loading again.")
		return exitFailed
	}

	if s.LoadOnly() {
		fmt.Println("    SUCCESS: Image successfully loaded on target")
		return exitOK
	}
	fmt.Println("    SUCCESS: Image successfully loaded and executed on target")
	if !s.Proxy.Active || noLaunch {
		return exitOK
	}

	launcher := &bootstrap.Launcher{
		RelayCommand:    relayPath,
		SerialRelayPort: cfg.SerialRelayPort,
		TerminalCommand: cfg.TerminalCommand,
		Delay:           time.Second,
	}
	coordinator := fx.NewCoordinator()
	ctx, cancel := coordinator.WithShutdown(runner.Context)
	defer cancel()
	if err = launcher.Launch(ctx, s); err != nil {
		glog.Errorf("launch: %v", err)
	}
	rs := relay.NewSession(abort, coordinator)
	err = runner.GoWith(ctx, fx.NamedRun("proxy", fx.RunFunc(func(ctx context.Context) error {
		return bootstrap.ServeProxy(ctx, s, rs, cfg.RelayReadTimeout)
	}))).Wait()
	if err != nil {
		glog.Errorf("proxy: %v", err)
	}
	return exitOK
}
