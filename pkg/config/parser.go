package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cinderlinux/cinder/internal/util"
	"github.com/cinderlinux/cinder/pkg/service"
)

// ServiceDescription holds the parsed configuration of a service.
type ServiceDescription struct {
	Name string
	Type service.ServiceType

	// Commands
	Command     []string
	StopCommand []string
	WorkingDir  string
	Env         []string

	// Dependencies (by name, resolved by the loader)
	DependsOn []string // depends-on (REGULAR)
	DependsMS []string // depends-ms (MILESTONE)
	WaitsFor  []string // waits-for (WAITS_FOR)
	Before    []string // before (ordering only)
	After     []string // after (ordering only)

	// Dependency directories
	DependsOnD []string
	DependsMSD []string
	WaitsForD  []string

	// Behavior
	AutoRestart    bool
	SmoothRecovery bool
	Flags          service.ServiceFlags

	// Logging
	LogType   service.LogType
	LogFile   string
	LogBufMax int

	// Process management
	StopTimeout       time.Duration
	StartTimeout      time.Duration
	RestartDelay      time.Duration
	RestartInterval   time.Duration
	RestartLimitCount int
	TermSignal        syscall.Signal
	PIDFile           string
	ReadyNotification bool

	// Credentials ("uid" or "uid:gid")
	RunAs string

	// Chaining
	ChainTo string

	Description string
}

// NewServiceDescription creates a ServiceDescription with defaults.
func NewServiceDescription(name string) *ServiceDescription {
	return &ServiceDescription{
		Name:       name,
		Type:       service.TypeProcess,
		TermSignal: syscall.SIGTERM,
	}
}

// ParseError represents an error during service description parsing.
type ParseError struct {
	ServiceName string
	FileName    string
	Line        int
	Setting     string
	Message     string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		if e.Setting != "" {
			return fmt.Sprintf("%s:%d: setting '%s': %s (service: %s)",
				e.FileName, e.Line, e.Setting, e.Message, e.ServiceName)
		}
		return fmt.Sprintf("%s:%d: %s (service: %s)", e.FileName, e.Line, e.Message, e.ServiceName)
	}
	return fmt.Sprintf("service '%s': %s", e.ServiceName, e.Message)
}

// Parse reads a service description file.
//
// Format:
//   - Lines starting with '#' are comments
//   - Empty lines are ignored
//   - Value settings use "key = value", dependency settings "key: value"
//   - "key += value" appends for list-valued settings
func Parse(r io.Reader, name string, fileName string) (*ServiceDescription, error) {
	desc := NewServiceDescription(name)
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		setting, value, op, err := parseLine(trimmed)
		if err != nil {
			return nil, &ParseError{ServiceName: name, FileName: fileName, Line: lineNum, Message: err.Error()}
		}

		if !IsKnownSetting(setting) {
			return nil, &ParseError{
				ServiceName: name, FileName: fileName, Line: lineNum,
				Setting: setting, Message: "unknown setting",
			}
		}

		if !ValidOperator(setting, op) {
			expectedOp := "="
			if KnownSettings[setting]&OpColon != 0 {
				expectedOp = ":"
			}
			return nil, &ParseError{
				ServiceName: name, FileName: fileName, Line: lineNum,
				Setting: setting, Message: fmt.Sprintf("invalid operator, expected '%s'", expectedOp),
			}
		}

		if err := applySetting(desc, setting, value, op); err != nil {
			return nil, &ParseError{
				ServiceName: name, FileName: fileName, Line: lineNum,
				Setting: setting, Message: err.Error(),
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading service description for %s: %w", name, err)
	}

	return desc, nil
}

// parseLine splits a config line into setting, value, and operator.
func parseLine(line string) (setting string, value string, op OperatorType, err error) {
	if idx := strings.Index(line, "+="); idx >= 0 {
		return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+2:]), OpPlusEqual, nil
	}

	eqIdx := strings.IndexByte(line, '=')
	colonIdx := strings.IndexByte(line, ':')

	if colonIdx >= 0 && (eqIdx < 0 || colonIdx < eqIdx) {
		return strings.TrimSpace(line[:colonIdx]), strings.TrimSpace(line[colonIdx+1:]), OpColon, nil
	}
	if eqIdx >= 0 {
		return strings.TrimSpace(line[:eqIdx]), strings.TrimSpace(line[eqIdx+1:]), OpEquals, nil
	}

	return "", "", 0, fmt.Errorf("missing operator ('=' or ':')")
}

func applySetting(desc *ServiceDescription, setting, value string, op OperatorType) error {
	switch setting {
	case "type":
		return applyType(desc, value)
	case "description":
		desc.Description = value
	case "command":
		desc.Command = splitCommand(value)
	case "stop-command":
		desc.StopCommand = splitCommand(value)
	case "working-dir":
		desc.WorkingDir = value
	case "env":
		if op != OpPlusEqual {
			desc.Env = nil
		}
		desc.Env = append(desc.Env, value)

	case "depends-on":
		desc.DependsOn = append(desc.DependsOn, value)
	case "depends-ms":
		desc.DependsMS = append(desc.DependsMS, value)
	case "waits-for":
		desc.WaitsFor = append(desc.WaitsFor, value)
	case "before":
		desc.Before = append(desc.Before, value)
	case "after":
		desc.After = append(desc.After, value)
	case "depends-on.d":
		desc.DependsOnD = append(desc.DependsOnD, value)
	case "depends-ms.d":
		desc.DependsMSD = append(desc.DependsMSD, value)
	case "waits-for.d":
		desc.WaitsForD = append(desc.WaitsForD, value)

	case "restart":
		b, err := util.ParseBool(value)
		if err != nil {
			return err
		}
		desc.AutoRestart = b
	case "smooth-recovery":
		b, err := util.ParseBool(value)
		if err != nil {
			return err
		}
		desc.SmoothRecovery = b

	case "stop-timeout":
		return setDuration(&desc.StopTimeout, value)
	case "start-timeout":
		return setDuration(&desc.StartTimeout, value)
	case "restart-delay":
		return setDuration(&desc.RestartDelay, value)
	case "restart-limit-interval":
		return setDuration(&desc.RestartInterval, value)
	case "restart-limit-count":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid count: %w", err)
		}
		desc.RestartLimitCount = n

	case "term-signal":
		sig, err := util.ParseSignal(value)
		if err != nil {
			return err
		}
		desc.TermSignal = sig

	case "logfile":
		desc.LogFile = value
		if desc.LogType == service.LogNone {
			desc.LogType = service.LogFile
		}
	case "log-type":
		return applyLogType(desc, value)
	case "log-buffer-size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid buffer size: %w", err)
		}
		desc.LogBufMax = n

	case "pid-file":
		desc.PIDFile = value
	case "ready-notification":
		b, err := util.ParseBool(value)
		if err != nil {
			return err
		}
		desc.ReadyNotification = b
	case "run-as":
		desc.RunAs = value

	case "chain-to":
		desc.ChainTo = value

	case "options":
		return applyOptions(desc, value, op == OpPlusEqual)
	}

	return nil
}

func applyType(desc *ServiceDescription, value string) error {
	switch strings.ToLower(value) {
	case "process":
		desc.Type = service.TypeProcess
	case "bgprocess":
		desc.Type = service.TypeBGProcess
	case "scripted":
		desc.Type = service.TypeScripted
	case "internal":
		desc.Type = service.TypeInternal
	case "triggered":
		desc.Type = service.TypeTriggered
	default:
		return fmt.Errorf("unknown service type: %s", value)
	}
	return nil
}

func applyLogType(desc *ServiceDescription, value string) error {
	switch strings.ToLower(value) {
	case "none":
		desc.LogType = service.LogNone
	case "file":
		desc.LogType = service.LogFile
	case "buffer":
		desc.LogType = service.LogMemory
	default:
		return fmt.Errorf("unknown log type: %s", value)
	}
	return nil
}

func applyOptions(desc *ServiceDescription, value string, appendTo bool) error {
	if !appendTo {
		desc.Flags = service.ServiceFlags{}
	}
	for _, opt := range strings.Fields(value) {
		switch opt {
		case "runs-on-console":
			desc.Flags.RunsOnConsole = true
		case "starts-on-console":
			desc.Flags.StartsOnConsole = true
		case "start-interruptible":
			desc.Flags.StartInterruptible = true
		case "skippable":
			desc.Flags.Skippable = true
		case "signal-process-only":
			desc.Flags.SignalProcessOnly = true
		case "rw-ready":
			desc.Flags.RWReady = true
		case "log-ready":
			desc.Flags.LogReady = true
		default:
			return fmt.Errorf("unknown option: %s", opt)
		}
	}
	return nil
}

func setDuration(dst *time.Duration, value string) error {
	d, err := util.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// splitCommand splits a command string into parts, respecting single
// and double quotes and backslash escapes.
func splitCommand(cmd string) []string {
	var parts []string
	var current strings.Builder
	inQuote := false
	quoteChar := byte(0)
	escaped := false

	for i := 0; i < len(cmd); i++ {
		ch := cmd[i]

		if escaped {
			current.WriteByte(ch)
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if inQuote {
			if ch == quoteChar {
				inQuote = false
			} else {
				current.WriteByte(ch)
			}
			continue
		}
		if ch == '"' || ch == '\'' {
			inQuote = true
			quoteChar = ch
			continue
		}
		if ch == ' ' || ch == '\t' {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteByte(ch)
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// ParseRunAs parses a "uid" or "uid:gid" credential spec.
func ParseRunAs(value string) (uid, gid uint32, err error) {
	parts := strings.SplitN(value, ":", 2)
	u, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uid: %w", err)
	}
	uid = uint32(u)
	if len(parts) == 2 {
		g, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid gid: %w", err)
		}
		gid = uint32(g)
	}
	return uid, gid, nil
}
