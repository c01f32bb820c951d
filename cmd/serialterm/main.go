// Command serialterm connects the terminal to a serial device.
//
//	serialterm --path /dev/ttyUSB0 --baud-rate 115200
//
// Keys typed are sent to the device and device output is shown on the
// screen. Press Ctrl + ] to exit. Use --list to see the available ports.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	serialterm "github.com/luhtfiimanal/go-serial-term"
	"github.com/luhtfiimanal/go-serial-term/keyboard"
	"github.com/luhtfiimanal/go-serial-term/rawmode"
	"github.com/luhtfiimanal/go-serial-term/serial"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

type options struct {
	path     string
	baudRate int
	list     bool
}

var errUsage = errors.New("usage")

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	flagSet := pflag.NewFlagSet("serialterm", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.path, "path", "p", "", "serial device to open, e.g. /dev/ttyUSB0")
	flagSet.IntVarP(&opts.baudRate, "baud-rate", "b", 0, "line speed in bits per second")
	flagSet.BoolVarP(&opts.list, "list", "l", false, "list available serial ports and exit")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}
	if opts.list {
		return opts, nil
	}
	if flagSet.NArg() > 0 {
		return opts, fmt.Errorf("%w: unexpected argument %q", errUsage, flagSet.Arg(0))
	}
	if opts.path == "" {
		return opts, fmt.Errorf("%w: --path is required", errUsage)
	}
	if opts.baudRate <= 0 {
		return opts, fmt.Errorf("%w: --baud-rate must be a positive integer", errUsage)
	}
	return opts, nil
}

// exitCode maps the result of a session to the process exit status.
// Cancellation by signal is a clean exit.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return exitOK
	}
	return exitFailure
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin, stdout, stderr *os.File) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		// pflag has already reported its own parse errors.
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "serialterm: %v\n", err)
		}
		return exitUsage
	}

	logger := newLogger(stderr)

	if opts.list {
		ports, err := serial.List()
		if err != nil {
			logger.Error("cannot list ports", "error", err)
			return exitFailure
		}
		for _, p := range ports {
			fmt.Fprintln(stdout, p)
		}
		return exitOK
	}

	port, err := serial.Open(serial.Config{Device: opts.path, BaudRate: opts.baudRate})
	if err != nil {
		logger.Error("cannot open port", "path", opts.path, "error", err)
		return exitFailure
	}
	defer port.Close()

	fmt.Fprintf(stdout, "Connected to %s\nPress Ctrl + ] to exit\n", opts.path)

	state, err := rawmode.Enable(int(stdin.Fd()))
	if err != nil {
		logger.Error("failed enabling raw mode", "error", err)
		return exitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	queue := keyboard.NewQueue()
	done := make(chan struct{})
	keyErrs := make(chan error, 1)
	go keyboard.NewReader(stdin).Run(done, queue, func(err error) { keyErrs <- err })

	session := &serialterm.Session{Port: port, Keys: queue, Screen: stdout}
	sessionErr := session.Run(ctx)
	close(done)

	if err := state.Disable(); err != nil {
		logger.Error("failed disabling raw mode", "error", err)
		return exitFailure
	}
	fmt.Fprintln(stdout)

	select {
	case err := <-keyErrs:
		logger.Warn("error reading from stdin", "error", err)
	default:
	}
	if code := exitCode(sessionErr); code != exitOK {
		logger.Error("session ended", "path", opts.path, "error", sessionErr)
		return code
	}
	return exitOK
}
