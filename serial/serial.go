package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	// ErrClosed is returned by Read and Write after Close.
	ErrClosed = errors.New("serial port closed")

	// ErrUnsupportedBaudRate is returned by Open for rates outside the termios table.
	ErrUnsupportedBaudRate = errors.New("unsupported baud rate")
)

// Config holds configuration parameters for opening a serial port.
// The line is always set up as 8 data bits, no parity, 1 stop bit.
type Config struct {
	Device   string
	BaudRate int
}

// Port is an open serial device. Read and Write may be called from
// different goroutines; Close unblocks a pending Read.
type Port struct {
	fd        int
	file      *os.File
	done      chan struct{}
	closeOnce sync.Once
	config    Config
	pipeR     int // self-pipe read fd
	pipeW     int // self-pipe write fd

	// fds is held shared by Read for as long as it polls fd and pipeR, and
	// exclusively by Close while it releases them.
	fds sync.RWMutex
}

// Open opens a serial port using the provided Config.
// The port is configured for raw, unbuffered 8N1 operation.
func Open(cfg Config) (*Port, error) {
	baud, ok := baudToUnix(cfg.BaudRate)
	if !ok {
		return nil, fmt.Errorf("cannot open port %s: %w: %d", cfg.Device, ErrUnsupportedBaudRate, cfg.BaudRate)
	}

	fd, err := syscall.Open(cfg.Device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("cannot open port %s: %w", cfg.Device, err)
	}

	if err := configure(fd, baud); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("cannot open port %s: %w", cfg.Device, err)
	}

	// Turn back into blocking mode now that config is done
	if err := syscall.SetNonblock(fd, false); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("cannot open port %s: set blocking: %w", cfg.Device, err)
	}

	// Create self-pipe for killability
	pipeFds := make([]int, 2)
	if err := unix.Pipe2(pipeFds, unix.O_CLOEXEC); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("cannot open port %s: pipe: %w", cfg.Device, err)
	}

	return &Port{
		fd:     fd,
		file:   os.NewFile(uintptr(fd), cfg.Device),
		done:   make(chan struct{}),
		config: cfg,
		pipeR:  pipeFds[0],
		pipeW:  pipeFds[1],
	}, nil
}

func configure(fd int, baud uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF | unix.IXANY
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN

	// 8N1
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baud
	termios.Ispeed = baud
	termios.Ospeed = baud

	// VMIN=1, VTIME=0: a read returns as soon as one byte is available
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

// Name returns the device path the port was opened with.
func (p *Port) Name() string {
	return p.config.Device
}

// BaudRate returns the configured line speed.
func (p *Port) BaudRate() int {
	return p.config.BaudRate
}

// Read blocks until at least one byte has arrived and fills b with what is
// available. It returns io.EOF when the device hangs up and ErrClosed once
// Close has been called.
func (p *Port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.fds.RLock()
	defer p.fds.RUnlock()
	for {
		select {
		case <-p.done:
			return 0, ErrClosed
		default:
		}
		// Use poll to wait for data or kill signal
		pfd := []unix.PollFd{
			{Fd: int32(p.fd), Events: unix.POLLIN},
			{Fd: int32(p.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		// Check killability
		select {
		case <-p.done:
			return 0, ErrClosed
		default:
		}
		if err != nil {
			return 0, err
		}
		if pfd[1].Revents&unix.POLLIN != 0 {
			return 0, ErrClosed
		}
		if pfd[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
			continue
		}
		n, err := p.file.Read(b)
		if n > 0 {
			return n, nil
		}
		if err == nil || err == io.EOF {
			return 0, io.EOF
		}
		// A pty whose other end has gone away reports EIO rather than EOF.
		if errors.Is(err, syscall.EIO) {
			return 0, fmt.Errorf("%w: %v", io.EOF, err)
		}
		return 0, err
	}
}

// Write writes all of b to the port, retrying short writes.
func (p *Port) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ErrClosed
	default:
	}
	written := 0
	for written < len(b) {
		n, err := p.file.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Close closes the serial port and unblocks any pending Read.
// Safe to call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		// Wake up poll using self-pipe. The byte is never drained, so any
		// later poll wakes too.
		unix.Write(p.pipeW, []byte{1})

		p.fds.Lock()
		defer p.fds.Unlock()
		// The file owns fd; closing it releases the descriptor.
		err = p.file.Close()
		unix.Close(p.pipeR)
		unix.Close(p.pipeW)
	})
	return err
}

var baudRates = map[int]uint32{
	50:      unix.B50,
	75:      unix.B75,
	110:     unix.B110,
	134:     unix.B134,
	150:     unix.B150,
	200:     unix.B200,
	300:     unix.B300,
	600:     unix.B600,
	1200:    unix.B1200,
	1800:    unix.B1800,
	2400:    unix.B2400,
	4800:    unix.B4800,
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	576000:  unix.B576000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	1152000: unix.B1152000,
	1500000: unix.B1500000,
	2000000: unix.B2000000,
	2500000: unix.B2500000,
	3000000: unix.B3000000,
	3500000: unix.B3500000,
	4000000: unix.B4000000,
}

func baudToUnix(baud int) (uint32, bool) {
	b, ok := baudRates[baud]
	return b, ok
}
