// Package rawmode switches a terminal between cooked and raw input.
package rawmode

import (
	"errors"
	"fmt"

	"golang.org/x/term"
)

// ErrNotTerminal is returned by Enable when fd does not refer to a terminal.
var ErrNotTerminal = errors.New("not a terminal")

// State remembers the terminal settings in force before Enable.
type State struct {
	fd    int
	saved *term.State
}

// Enable puts the terminal on fd into raw mode: input is delivered byte by
// byte, without line buffering, echo or signal generation.
func Enable(fd int) (*State, error) {
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("enable raw mode on fd %d: %w", fd, ErrNotTerminal)
	}
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("enable raw mode on fd %d: %w", fd, err)
	}
	return &State{fd: fd, saved: saved}, nil
}

// Disable restores the settings saved by Enable.
func (s *State) Disable() error {
	if err := term.Restore(s.fd, s.saved); err != nil {
		return fmt.Errorf("disable raw mode on fd %d: %w", s.fd, err)
	}
	return nil
}
