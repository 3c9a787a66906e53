package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	common "github.com/Connect-Club/connectclub-meet-common"
	"github.com/Connect-Club/connectclub-meet-common/config"
	"github.com/Connect-Club/connectclub-meet-common/internal/cli"
	"github.com/Connect-Club/connectclub-meet-common/storage"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	common.SetLogLevel(cfg.Log.Level)
	common.NewLogger("main").WithField("version", cli.Version).Debug("starting")

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot locate home directory: %w", err)
	}
	session, err := storage.NewFile(filepath.Join(home, ".config", "meetsync", "session.json"))
	if err != nil {
		return err
	}
	common.SetStorage(session)

	common.Initialize()
	if cfg.Api.Insecure {
		common.InsecureHttpTransport()
	}

	deps := &cli.Dependencies{
		Config: cfg,
		Client: common.HttpClient(cfg.Api, runtime.GOOS, cli.Version),
	}
	return cli.NewRootCmd(deps).Execute()
}
