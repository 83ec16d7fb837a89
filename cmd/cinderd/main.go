// cinderd is the cinder service manager and init daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cinderlinux/cinder/pkg/config"
	"github.com/cinderlinux/cinder/pkg/control"
	"github.com/cinderlinux/cinder/pkg/eventloop"
	"github.com/cinderlinux/cinder/pkg/logging"
	"github.com/cinderlinux/cinder/pkg/process"
	"github.com/cinderlinux/cinder/pkg/service"
	"github.com/cinderlinux/cinder/pkg/shutdown"
)

const (
	version = "0.1.0"

	defaultServiceDir  = "/etc/cinder.d"
	defaultBootService = "boot"
	defaultSocketPath  = "/run/cinderd.socket"
	defaultRunDir      = "/run"
)

var cfgFile string

func main() {
	cmd := rootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cinderd",
		Short:   "cinderd - service supervisor and init daemon",
		Version: version,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.Flags().StringSlice("service-dir", []string{defaultServiceDir}, "service description directory (repeatable)")
	cmd.Flags().String("socket", defaultSocketPath, "control socket path")
	cmd.Flags().String("boot-service", defaultBootService, "service started at boot")
	cmd.Flags().String("log-level", "info", "minimum log level (debug|info|warn|error)")
	cmd.Flags().String("log-file", "", "external log file (activated by a log-ready service)")
	cmd.Flags().String("run-dir", defaultRunDir, "runtime directory for pid and lock files")
	cmd.Flags().Bool("pid1", false, "run with PID 1 behavior (reboot handling, rootfs remount)")

	for _, name := range []string{"service-dir", "socket", "boot-service", "log-level", "log-file", "run-dir", "pid1"} {
		_ = viper.BindPFlag(configKey(name), cmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("CINDER")
	viper.AutomaticEnv()

	return cmd
}

func configKey(flag string) string {
	switch flag {
	case "service-dir":
		return "service_dirs"
	case "boot-service":
		return "boot_service"
	case "log-level":
		return "log_level"
	case "log-file":
		return "log_file"
	case "run-dir":
		return "run_dir"
	default:
		return flag
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

func parseLogLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func run() error {
	logger := logging.New(parseLogLevel(viper.GetString("log_level")))
	isPID1 := viper.GetBool("pid1") || os.Getpid() == 1
	runDir := viper.GetString("run_dir")

	// Only one cinderd per runtime directory.
	lock := flock.New(filepath.Join(runDir, "cinderd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another cinderd instance is already running")
	}
	defer lock.Unlock()

	if err := writePIDFile(filepath.Join(runDir, "cinderd.pid")); err != nil {
		logger.Warn("Couldn't write pid file: %v", err)
	}

	loop := eventloop.New(logger)
	launcher := process.NewLauncher(loop)
	set := service.NewServiceSet(loop, launcher, logger)
	loop.AttachServices(set)
	loop.SetPID1Mode(isPID1)

	set.SetTerminalControl(process.NewTerminal(0))
	set.SetLoader(config.NewDirLoader(set, viper.GetStringSlice("service_dirs")))

	if logFile := viper.GetString("log_file"); logFile != "" {
		set.SetExternalLogHook(func() {
			logger.SetupExternalLog(logFile, 10, 3)
		})
	}
	if isPID1 {
		set.SetRootfsReadyHook(func() {
			shutdown.RootfsRemountRW(logger)
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctl := control.NewServer(set, loop, viper.GetString("socket"), logger)
	ctl.ShutdownFunc = func(st service.ShutdownType) {
		loop.InitiateShutdown(st)
	}
	if err := ctl.Start(ctx); err != nil {
		return fmt.Errorf("starting control socket: %w", err)
	}
	defer ctl.Stop()

	bootService := viper.GetString("boot_service")
	loop.Post(func() {
		svc, err := set.LoadService(bootService)
		if err != nil {
			logger.Error("Couldn't load boot service '%s': %v", bootService, err)
			return
		}
		svc.Start(true)
	})

	if err := loop.Run(ctx); err != nil {
		return err
	}

	if isPID1 {
		// Does not return.
		shutdown.Execute(loop.GetShutdownType(), logger)
	}
	return nil
}

// writePIDFile writes the daemon pid atomically, so readers never see
// a partial file.
func writePIDFile(path string) error {
	return renameio.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
