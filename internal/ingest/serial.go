package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.bug.st/serial"
)

// SerialConfig holds connection parameters for the gateway's serial link.
type SerialConfig struct {
	PortPath string `yaml:"port_path"`
	BaudRate int    `yaml:"baud_rate"`
}

// ErrSourceClosed is the only error ReadLine ever returns: a scanner
// failure is handled as a dropped link and waited out, so this error means
// Close was called and the session is over. The ingest loop treats it as a
// clean shutdown rather than a fatal read error.
var ErrSourceClosed = errors.New("serial: source closed")

// SerialSource reads line-delimited CAN-FD text frames off a real serial
// port at 115,200 8N1, matching the gateway's wire format. Losing the
// link — whether it was never connected yet at startup or it drops
// mid-session — does not end the stream: ReadLine blocks until the next
// successful Connect instead of returning an error, so a reconnect
// supervisor (see cmd/canmonitor's connectWithRetry) can keep retrying the
// link in the background while ingestion simply stalls rather than
// exiting. Close is the only thing that makes ReadLine give up for good.
type SerialSource struct {
	cfg SerialConfig

	mu      sync.Mutex
	port    serial.Port
	scanner *bufio.Scanner
	closed  bool
	wake    chan struct{} // closed and replaced on every connect/disconnect/close
}

// NewSerialSource creates a SerialSource; call Connect before ReadLine.
func NewSerialSource(cfg SerialConfig) *SerialSource {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	return &SerialSource{cfg: cfg, wake: make(chan struct{})}
}

// Connect opens the underlying port in 8N1 mode and wakes any ReadLine
// call that is blocked waiting for a connection, or waiting to learn that
// the prior connection dropped.
func (s *SerialSource) Connect() error {
	mode := &serial.Mode{
		BaudRate: s.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.cfg.PortPath, mode)
	if err != nil {
		return fmt.Errorf("serial: failed to open %s: %w", s.cfg.PortPath, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		port.Close()
		return ErrSourceClosed
	}
	s.port = port
	s.scanner = bufio.NewScanner(port)
	old := s.wake
	s.wake = make(chan struct{})
	s.mu.Unlock()
	close(old)
	return nil
}

// ReadLine returns the next line from the port. If the port is not
// currently connected — never opened yet, or the previous connection
// dropped — it blocks until the next Connect succeeds rather than
// returning an error. Only Close unblocks it permanently.
func (s *SerialSource) ReadLine() (string, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrSourceClosed
		}
		scanner := s.scanner
		wake := s.wake
		s.mu.Unlock()

		if scanner == nil {
			<-wake
			continue
		}

		if scanner.Scan() {
			return scanner.Text(), nil
		}

		// The link dropped (read error, or the port was closed out from
		// under us). Drop the stale scanner/port and go back around to
		// wait for the next Connect, unless we are the only one who
		// would have invalidated it (a newer Connect may have already
		// raced in).
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", ErrSourceClosed
		}
		if s.scanner == scanner {
			s.port = nil
			s.scanner = nil
			old := s.wake
			s.wake = make(chan struct{})
			s.mu.Unlock()
			close(old)
			continue
		}
		s.mu.Unlock()
	}
}

// Close releases the underlying port, if any, and permanently unblocks
// any in-flight or future ReadLine call with ErrSourceClosed.
func (s *SerialSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	port := s.port
	s.port = nil
	s.scanner = nil
	wake := s.wake
	s.mu.Unlock()

	close(wake)
	if port != nil {
		return port.Close()
	}
	return nil
}

// WaitForDisconnect blocks until the source is not currently connected —
// never connected in the first place, dropped since the last Connect, or
// permanently closed — or ctx is done. It lets a reconnect supervisor
// learn exactly when to start retrying again instead of polling.
func (s *SerialSource) WaitForDisconnect(ctx context.Context) {
	for {
		s.mu.Lock()
		connected := s.scanner != nil
		closed := s.closed
		wake := s.wake
		s.mu.Unlock()

		if closed || !connected {
			return
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return
		}
	}
}
