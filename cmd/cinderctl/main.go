// cinderctl is the command-line client for the cinderd control socket.
package main

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/cinderlinux/cinder/internal/util"
	"github.com/cinderlinux/cinder/pkg/control"
	"github.com/cinderlinux/cinder/pkg/service"
)

const defaultSocketPath = "/run/cinderd.socket"

var socketPath string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cinderctl",
		Short: "cinderctl - control a running cinderd",
	}
	cmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath, "control socket path")

	cmd.AddCommand(
		serviceCmd("start", "Start a service", control.CmdStartService),
		serviceCmd("stop", "Stop a service", control.CmdStopService),
		serviceCmd("restart", "Restart a service", control.CmdRestartService),
		serviceCmd("unpin", "Clear a service's pin", control.CmdUnpinService),
		statusCmd(),
		listCmd(),
		catlogCmd(),
		triggerCmd(),
		signalCmd(),
		shutdownCmd(),
	)
	return cmd
}

// client wraps one control-socket connection.
type client struct {
	conn net.Conn
}

func dial() (*client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return &client{conn: conn}, nil
}

func (c *client) close() { c.conn.Close() }

func (c *client) roundTrip(cmd uint8, payload []byte) (uint8, []byte, error) {
	if err := control.WritePacket(c.conn, cmd, payload); err != nil {
		return 0, nil, err
	}
	return control.ReadPacket(c.conn)
}

// loadService obtains a handle for the named service, loading it if
// necessary.
func (c *client) loadService(name string) (uint32, error) {
	rply, payload, err := c.roundTrip(control.CmdLoadService, control.EncodeServiceName(name))
	if err != nil {
		return 0, err
	}
	switch rply {
	case control.RplyServiceRecord:
		if len(payload) < 6 {
			return 0, fmt.Errorf("malformed service record reply")
		}
		return binary.LittleEndian.Uint32(payload[1:]), nil
	case control.RplyNoService:
		return 0, fmt.Errorf("service '%s' not found", name)
	default:
		return 0, fmt.Errorf("unexpected reply %d", rply)
	}
}

func checkAck(rply uint8) error {
	switch rply {
	case control.RplyACK:
		return nil
	case control.RplyAlreadySS:
		return fmt.Errorf("service already in requested state")
	case control.RplyShuttingDown:
		return fmt.Errorf("cinderd is shutting down")
	case control.RplyNAK:
		return fmt.Errorf("request refused")
	default:
		return fmt.Errorf("unexpected reply %d", rply)
	}
}

// withHandle dials, resolves the service name and runs fn on the
// handle.
func withHandle(name string, fn func(c *client, handle uint32) error) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.close()

	handle, err := c.loadService(name)
	if err != nil {
		return err
	}
	return fn(c, handle)
}

func serviceCmd(use, short string, code uint8) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <service>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withHandle(args[0], func(c *client, handle uint32) error {
				rply, _, err := c.roundTrip(code, control.EncodeHandle(handle))
				if err != nil {
					return err
				}
				return checkAck(rply)
			})
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <service>",
		Short: "Show the status of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withHandle(args[0], func(c *client, handle uint32) error {
				rply, payload, err := c.roundTrip(control.CmdServiceStatus, control.EncodeHandle(handle))
				if err != nil {
					return err
				}
				if rply != control.RplyServiceStatus {
					return checkAck(rply)
				}
				info, err := control.DecodeServiceStatus(payload)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %s (target %s)\n", args[0], info.State, info.TargetState)
				if info.Flags&control.StatusFlagHasPID != 0 {
					fmt.Printf("  pid: %d\n", info.PID)
				}
				if info.State == service.StateStopped {
					fmt.Printf("  stop reason: %s\n", info.StopReason)
				}
				return nil
			})
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all loaded services",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.close()

			if err := control.WritePacket(c.conn, control.CmdListServices, nil); err != nil {
				return err
			}
			for {
				rply, payload, err := control.ReadPacket(c.conn)
				if err != nil {
					return err
				}
				if rply == control.RplyListDone {
					return nil
				}
				if rply != control.RplySvcInfo {
					return fmt.Errorf("unexpected reply %d", rply)
				}
				entry, _, err := control.DecodeSvcInfo(payload)
				if err != nil {
					return err
				}
				line := fmt.Sprintf("[%s] %s", entry.State, entry.Name)
				if entry.PID > 0 {
					line += fmt.Sprintf(" (pid %d)", entry.PID)
				}
				fmt.Println(line)
			}
		},
	}
}

func catlogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catlog <service>",
		Short: "Print a service's buffered output",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withHandle(args[0], func(c *client, handle uint32) error {
				rply, payload, err := c.roundTrip(control.CmdCatLog, control.EncodeHandle(handle))
				if err != nil {
					return err
				}
				if rply != control.RplyCatLogData {
					return fmt.Errorf("service does not buffer its output")
				}
				os.Stdout.Write(payload)
				return nil
			})
		},
	}
}

func triggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <service>",
		Short: "Trigger a triggered-type service",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return withHandle(args[0], func(c *client, handle uint32) error {
				payload := append(control.EncodeHandle(handle), 1)
				rply, _, err := c.roundTrip(control.CmdSetTrigger, payload)
				if err != nil {
					return err
				}
				return checkAck(rply)
			})
		},
	}
}

func signalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signal <service> <signal>",
		Short: "Send a signal to a service's process",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			sig, err := util.ParseSignal(args[1])
			if err != nil {
				return err
			}
			return withHandle(args[0], func(c *client, handle uint32) error {
				payload := make([]byte, 8)
				binary.LittleEndian.PutUint32(payload, handle)
				binary.LittleEndian.PutUint32(payload[4:], uint32(sig))
				rply, _, err := c.roundTrip(control.CmdSignal, payload)
				if err != nil {
					return err
				}
				if rply == control.RplySignalNoPID {
					return fmt.Errorf("service has no process")
				}
				return checkAck(rply)
			})
		},
	}
}

func shutdownCmd() *cobra.Command {
	var reboot, poweroff bool
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Stop all services and shut the system down",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.close()

			st := service.ShutdownHalt
			if reboot {
				st = service.ShutdownReboot
			} else if poweroff {
				st = service.ShutdownPoweroff
			}
			rply, _, err := c.roundTrip(control.CmdShutdown, []byte{byte(st)})
			if err != nil {
				return err
			}
			return checkAck(rply)
		},
	}
	cmd.Flags().BoolVar(&reboot, "reboot", false, "reboot after stopping services")
	cmd.Flags().BoolVar(&poweroff, "poweroff", false, "power off after stopping services")
	return cmd
}
