// Package serialterm is a minimal interactive serial terminal for Linux.
//
// A Session bridges two independent byte streams: bytes arriving from a
// serial device are decoded as UTF-8 (invalid sequences become U+FFFD) and
// written to the screen, and chunks typed on the keyboard are written to
// the device. Typing Ctrl + ] (byte 29) ends the session.
//
// Features:
//   - One select loop over serial input and keyboard input, so neither
//     stream waits on the other
//   - Killable serial reads (package serial, self-pipe + poll)
//   - Keyboard chunks delivered over a bounded FIFO queue (package keyboard)
//   - Raw terminal mode handling (package rawmode)
//   - PTY-based tests for reliability
//
// This package does **not** support Windows.
//
// Example usage:
//
//	port, err := serial.Open(serial.Config{
//	    Device:   "/dev/ttyUSB0",
//	    BaudRate: 115200,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	state, err := rawmode.Enable(int(os.Stdin.Fd()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	queue := keyboard.NewQueue()
//	done := make(chan struct{})
//	go keyboard.NewReader(os.Stdin).Run(done, queue, nil)
//
//	session := &serialterm.Session{Port: port, Keys: queue, Screen: os.Stdout}
//	err = session.Run(context.Background())
//	close(done)
//	state.Disable()
package serialterm
