package process

import (
	"golang.org/x/sys/unix"
)

// Terminal controls the foreground process group of the controlling
// terminal. It implements service.TerminalControl.
type Terminal struct {
	fd int
}

// NewTerminal returns terminal control over fd (normally 0).
func NewTerminal(fd int) *Terminal {
	return &Terminal{fd: fd}
}

// SetForegroundGroup makes pgid the terminal's foreground group.
func (t *Terminal) SetForegroundGroup(pgid int) error {
	return unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid)
}

// OwnProcessGroup returns the calling process's group.
func (t *Terminal) OwnProcessGroup() int {
	return unix.Getpgrp()
}
