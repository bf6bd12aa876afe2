package sweep

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bitcrane-tools/hashboard-tester/internal/fixture"
)

// Device is the fixture surface the controller drives: the five protocol
// operations plus Close. *fixture.Driver and *fixture.Sim both satisfy it.
type Device interface {
	Ping(customHex string) (bool, error)
	PowerOn() error
	DetectChip(index int) (bool, error)
	ReadTemperature(index int) (temp byte, ok bool, err error)
	SetFanSpeed(percent int) error
	Close() error
}

// DialFunc opens a connection to the fixture. Injected so tests and the
// simulator can stand in for real hardware.
type DialFunc func(cfg fixture.ConnectionConfig, logf func(format string, args ...any)) (Device, error)

// ErrAlreadyRunning is returned by Start while a sweep is active.
var ErrAlreadyRunning = errors.New("sweep: a sweep is already running")

// ErrNoSession is returned for fan-speed requests when no sweep holds an
// open connection.
var ErrNoSession = errors.New("sweep: no active session")

// interChipDelay bounds the request rate so the fixture is not overrun.
const interChipDelay = 100 * time.Millisecond

// Request describes one sweep. PingCommand and ChipCount are optional
// overrides (default ping frame, profile chip count).
type Request struct {
	Model       string                   `json:"model"`
	Connection  fixture.ConnectionConfig `json:"connection"`
	PingCommand string                   `json:"pingCommand,omitempty"`
	ChipCount   int                      `json:"chipCount,omitempty"`
}

// Handle identifies a started sweep. Events carries the sweep's ordered
// stream and is closed after the terminal event.
type Handle struct {
	Events <-chan Event

	cancel chan struct{}
	once   sync.Once
}

// Cancel requests a cooperative stop. The controller observes the flag
// before each chip's operations, so the current chip's detect/temperature
// pair still completes; cleanup runs before the terminal event.
func (h *Handle) Cancel() {
	h.once.Do(func() { close(h.cancel) })
}

// Status is a snapshot of the controller for UI consumption.
type Status struct {
	Active bool   `json:"active"`
	Model  string `json:"model,omitempty"`
	State  string `json:"state"`
	Chip   int    `json:"chip"`  // next chip index to poll
	Chips  int    `json:"chips"` // total for this sweep
}

type session struct {
	profile fixture.MinerProfile
	chips   int
	state   State
	current int
	dev     Device // set once connected, nil before and after
	handle  *Handle
	events  chan Event
}

// Controller runs at most one sweep at a time as a background worker.
// The worker owns the fixture connection; fan-speed requests issued while
// it runs are serialized against its I/O inside the driver.
type Controller struct {
	mu        sync.Mutex
	dial      DialFunc
	listPorts func() ([]string, error) // optional endpoint validation source
	delay     time.Duration
	active    *session
}

// NewController creates a controller. dial defaults to opening a real
// serial driver; listPorts, when non-nil, is used to validate that a
// requested endpoint actually exists before a sweep starts.
func NewController(dial DialFunc, listPorts func() ([]string, error)) *Controller {
	if dial == nil {
		dial = func(cfg fixture.ConnectionConfig, logf func(string, ...any)) (Device, error) {
			return fixture.Dial(cfg, logf)
		}
	}
	return &Controller{dial: dial, listPorts: listPorts, delay: interChipDelay}
}

// Start validates the request and launches the sweep worker. It returns
// without blocking on any I/O; progress arrives on the handle's event
// stream. Fails with ErrAlreadyRunning while a sweep is active.
func (c *Controller) Start(req Request) (*Handle, error) {
	profile, ok := fixture.LookupProfile(req.Model)
	if !ok {
		return nil, fmt.Errorf("sweep: unknown miner model %q", req.Model)
	}
	chips := profile.ChipCount
	if req.ChipCount > 0 {
		chips = req.ChipCount
	}
	// Reject bad caller input before any I/O.
	if _, err := fixture.PingCommand(req.PingCommand); err != nil {
		return nil, err
	}
	if err := c.validateEndpoint(req.Connection.PortPath); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	events := make(chan Event, 128)
	s := &session{
		profile: profile,
		chips:   chips,
		state:   StateIdle,
		events:  events,
		handle:  &Handle{Events: events, cancel: make(chan struct{})},
	}
	c.active = s
	c.mu.Unlock()

	go c.run(s, req)
	return s.handle, nil
}

// validateEndpoint checks the requested port against the enumerated list
// when an enumerator is available. Enumeration being unavailable is not a
// reason to refuse: the open itself will report the definitive error.
func (c *Controller) validateEndpoint(portPath string) error {
	if c.listPorts == nil || portPath == "" {
		return nil
	}
	ports, err := c.listPorts()
	if err != nil {
		return nil
	}
	for _, p := range ports {
		if p == portPath {
			return nil
		}
	}
	return fmt.Errorf("sweep: endpoint %s not found among available serial ports", portPath)
}

// SetFanSpeed routes a fan request to the running sweep's connection.
func (c *Controller) SetFanSpeed(percent int) error {
	if _, err := fixture.FanSpeedCommand(percent); err != nil {
		return err
	}
	c.mu.Lock()
	var dev Device
	if c.active != nil {
		dev = c.active.dev
	}
	c.mu.Unlock()
	if dev == nil {
		return ErrNoSession
	}
	return dev.SetFanSpeed(percent)
}

// Status reports the current sweep phase for UI consumption.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Status{State: StateIdle.String()}
	}
	s := c.active
	return Status{
		Active: true,
		Model:  s.profile.Name,
		State:  s.state.String(),
		Chip:   s.current,
		Chips:  s.chips,
	}
}

func (c *Controller) setState(s *session, st State) {
	c.mu.Lock()
	s.state = st
	c.mu.Unlock()
}

// run executes one sweep from Connecting through Polling and guarantees
// the connection is closed on every exit path before the terminal event.
func (c *Controller) run(s *session, req Request) {
	defer close(s.events)

	emit := func(ev Event) {
		ev.Stamp = time.Now().UnixMilli()
		s.events <- ev
	}
	logf := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		log.Printf("[sweep] %s", msg)
		emit(Event{Kind: KindLog, Message: msg})
	}

	c.setState(s, StateConnecting)
	dev, err := c.dial(req.Connection, logf)
	if err != nil {
		logf("initialization error: %v", err)
		c.setState(s, StateFinished)
		c.clearActive(s)
		emit(Event{Kind: KindDone, Done: &Terminal{Reason: err.Error()}})
		return
	}
	c.mu.Lock()
	s.dev = dev
	c.mu.Unlock()

	result := c.sweep(s, req, dev, emit, logf)

	// Cleanup before the terminal event, on every path.
	if err := dev.Close(); err != nil {
		logf("close error: %v", err)
	}
	c.setState(s, StateFinished)
	c.clearActive(s)
	emit(Event{Kind: KindDone, Done: &result})
}

func (c *Controller) sweep(s *session, req Request, dev Device, emit func(Event), logf func(string, ...any)) Terminal {
	emit(Event{Kind: KindConnected, Message: fmt.Sprintf("connected to Bitcrane on %s", req.Connection.PortPath)})

	c.setState(s, StatePinging)
	alive, err := dev.Ping(req.PingCommand)
	if err != nil {
		return Terminal{Reason: fmt.Sprintf("ping: %v", err)}
	}
	emit(Event{Kind: KindPing, Message: pingMessage(alive), OK: boolPtr(alive)})
	if !alive {
		return Terminal{Reason: "failed to ping Bitcrane, check connections"}
	}

	c.setState(s, StatePoweringOn)
	if err := dev.PowerOn(); err != nil {
		return Terminal{Reason: fmt.Sprintf("power-on: %v", err)}
	}
	emit(Event{Kind: KindPowerOn, Message: "hashboard powered on", OK: boolPtr(true)})

	c.setState(s, StatePolling)
	for chip := 0; chip < s.chips; chip++ {
		select {
		case <-s.handle.cancel:
			return Terminal{Cancelled: true, Reason: "cancelled"}
		default:
		}
		c.mu.Lock()
		s.current = chip
		c.mu.Unlock()

		present, err := dev.DetectChip(chip)
		if err != nil {
			return Terminal{Reason: fmt.Sprintf("chip %d detect: %v", chip, err)}
		}
		res := ChipResult{Chip: chip, Present: present}
		if present {
			temp, ok, err := dev.ReadTemperature(chip)
			if err != nil {
				return Terminal{Reason: fmt.Sprintf("chip %d temperature: %v", chip, err)}
			}
			if ok {
				res.Temperature = &temp
			}
			logf("chip %d detected, temp: %s", chip, tempString(res.Temperature))
		} else {
			logf("chip %d not detected", chip)
		}
		emit(Event{Kind: KindChip, Chip: &res})

		time.Sleep(c.delay)
	}
	return Terminal{Success: true}
}

func (c *Controller) clearActive(s *session) {
	c.mu.Lock()
	if c.active == s {
		c.active = nil
	}
	c.mu.Unlock()
}

func pingMessage(alive bool) string {
	if alive {
		return "fixture answered ping"
	}
	return "no ping response"
}

func tempString(t *byte) string {
	if t == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *t)
}

func boolPtr(v bool) *bool { return &v }
