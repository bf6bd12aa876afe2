package fixture

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// serialPort is the subset of go.bug.st/serial.Port the transport uses.
// Tests substitute a scripted implementation.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// ConnectionConfig describes one serial session with the fixture.
// Immutable once a session starts.
type ConnectionConfig struct {
	PortPath    string        `json:"portPath"`
	BaudRate    int           `json:"baudRate"`
	ReadTimeout time.Duration `json:"readTimeout"`
}

// Transport owns one exclusive serial connection to the fixture and
// performs exact-length blocking I/O with a bounded wait. At most one
// sweep may own a Transport at a time.
type Transport struct {
	mu      sync.Mutex
	port    serialPort
	timeout time.Duration
}

// Open opens the serial port described by cfg. BaudRate defaults to
// 115200 and ReadTimeout to 1s if unset.
func Open(cfg ConnectionConfig) (*Transport, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 1 * time.Second
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.PortPath, mode)
	if err != nil {
		return nil, fmt.Errorf("fixture: failed to open %s: %w", cfg.PortPath, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("fixture: failed to set timeout on %s: %w", cfg.PortPath, err)
	}
	return &Transport{port: port, timeout: cfg.ReadTimeout}, nil
}

// Write sends the whole frame. A partial or failed write is an I/O error.
func (t *Transport) Write(frame []byte) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return fmt.Errorf("fixture: transport closed")
	}
	n, err := port.Write(frame)
	if err != nil {
		return fmt.Errorf("fixture: write failed after %d/%d bytes: %w", n, len(frame), err)
	}
	if n != len(frame) {
		return fmt.Errorf("fixture: short write: %d/%d bytes", n, len(frame))
	}
	return nil
}

// ReadUpTo reads up to want bytes, returning whatever arrived before the
// read timeout expired — possibly fewer than want, possibly none. A short
// or empty result is a protocol-level signal ("no response"), not an
// error; only connection loss errors out.
func (t *Transport) ReadUpTo(want int) ([]byte, error) {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return nil, fmt.Errorf("fixture: transport closed")
	}
	buf := make([]byte, want)
	got := 0
	for got < want {
		n, err := port.Read(buf[got:])
		if err != nil && n == 0 {
			return buf[:got], fmt.Errorf("fixture: read error after %d/%d bytes: %w", got, want, err)
		}
		if n == 0 {
			break // timeout — no more data coming
		}
		got += n
	}
	return buf[:got], nil
}

// Drain discards anything pending in the receive buffer.
func (t *Transport) Drain() {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port != nil {
		port.ResetInputBuffer()
	}
}

// Close releases the underlying port. Safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
