// Command kdeconnectd runs the device-pairing and message-exchange daemon.
package main

import (
	"os"
	"os/signal"
	"syscall"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/kdeconnectd/kdeconnectd/internal/config"
	"github.com/kdeconnectd/kdeconnectd/internal/core"
	"github.com/kdeconnectd/kdeconnectd/internal/klog"
	"github.com/kdeconnectd/kdeconnectd/internal/plugin"
)

var (
	deviceNameFlag = cli.StringFlag{
		Name:  "name",
		Usage: "device name to advertise, defaults to the hostname",
	}
	deviceTypeFlag = cli.StringFlag{
		Name:  "type",
		Value: "desktop",
		Usage: "device type to advertise (desktop, laptop, phone, tablet)",
	}
	stateDirFlag = cli.StringFlag{
		Name:  "state-dir",
		Value: defaultStateDir(),
		Usage: "directory holding the device id and TLS certificate/key",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Value: "info",
		Usage: "panic, fatal, error, warn, info, debug, or trace",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "kdeconnectd"
	app.Usage = "peer-to-peer device pairing and message-exchange daemon"
	app.Flags = []cli.Flag{deviceNameFlag, deviceTypeFlag, stateDirFlag, logLevelFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		klog.New("info").WithError(err).Fatal("kdeconnectd exited with an error")
	}
}

func run(c *cli.Context) error {
	log := klog.New(c.String(logLevelFlag.Name))

	deviceName := c.String(deviceNameFlag.Name)
	if deviceName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "kdeconnectd"
		}
		deviceName = hostname
	}

	cfg, err := config.Load(c.String(stateDirFlag.Name), deviceName, c.String(deviceTypeFlag.Name))
	if err != nil {
		return err
	}

	// No plugin implementations ship with the core (out of scope per
	// spec.md §1); the dispatch table starts empty and is wired up by
	// whatever embeds this daemon.
	engine, err := core.New(log, cfg, []plugin.Plugin{})
	if err != nil {
		return err
	}
	if err := engine.Start(); err != nil {
		return err
	}
	log.WithField("deviceId", cfg.DeviceID).WithField("deviceName", cfg.DeviceName).Info("kdeconnectd started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	engine.Stop()
	return nil
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/kdeconnectd"
	}
	return ".kdeconnectd"
}
