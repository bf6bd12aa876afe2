package fixture

import (
	"log"
	"sync"
)

// Driver expresses Bitcrane device semantics on top of the frame codec
// and a Transport: no retries, no policy beyond command ordering. Each
// command/response pair is reported hex-encoded through the log sink.
type Driver struct {
	mu   sync.Mutex // serializes exchanges (sweep I/O vs. fan-speed requests)
	tr   *Transport
	logf func(format string, args ...any)
}

// NewDriver wraps an open Transport. logf receives one line per protocol
// action; nil falls back to the standard logger.
func NewDriver(tr *Transport, logf func(format string, args ...any)) *Driver {
	if logf == nil {
		logf = func(format string, args ...any) {
			log.Printf("[fixture] "+format, args...)
		}
	}
	return &Driver{tr: tr, logf: logf}
}

// Dial opens the port described by cfg and returns a Driver bound to it.
func Dial(cfg ConnectionConfig, logf func(format string, args ...any)) (*Driver, error) {
	tr, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return NewDriver(tr, logf), nil
}

// exchange writes one command and reads its expected response length.
// The returned buffer may be short or empty on timeout.
func (d *Driver) exchange(cmd Command) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Stale bytes from a previous exchange must not leak into this
	// response read.
	d.tr.Drain()

	d.logf("sending %s command: % X", cmd.Name, cmd.Bytes)
	if err := d.tr.Write(cmd.Bytes); err != nil {
		return nil, err
	}
	resp, err := d.tr.ReadUpTo(cmd.RespLen)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		d.logf("%s response: none", cmd.Name)
	} else {
		d.logf("%s response: % X", cmd.Name, resp)
	}
	return resp, nil
}

// Ping sends the ping frame (customHex overrides the default) and reports
// whether the fixture answered with anything at all.
//
// Note the weak check: any non-empty response counts, with no header
// validation. All observed fixture firmware revisions behave this way and
// the ping frame itself varies between revisions — do not tighten this
// without confirming device behavior.
func (d *Driver) Ping(customHex string) (bool, error) {
	cmd, err := PingCommand(customHex)
	if err != nil {
		return false, err
	}
	resp, err := d.exchange(cmd)
	if err != nil {
		return false, err
	}
	return len(resp) > 0, nil
}

// PowerOn sends the hashboard power-on frame. The response is logged but
// not validated; the fixture gives no reliable failure indication here.
func (d *Driver) PowerOn() error {
	_, err := d.exchange(PowerOnCommand())
	return err
}

// DetectChip reports whether the chip at index answered the detect frame.
func (d *Driver) DetectChip(index int) (bool, error) {
	cmd, err := ChipDetectCommand(index)
	if err != nil {
		return false, err
	}
	resp, err := d.exchange(cmd)
	if err != nil {
		return false, err
	}
	return ParseDetectResponse(resp), nil
}

// ReadTemperature returns the temperature byte for the chip at index.
// ok is false when the fixture gave no valid reading.
func (d *Driver) ReadTemperature(index int) (temp byte, ok bool, err error) {
	cmd, err := TempReadCommand(index)
	if err != nil {
		return 0, false, err
	}
	resp, err := d.exchange(cmd)
	if err != nil {
		return 0, false, err
	}
	temp, ok = ParseTempResponse(resp)
	return temp, ok, nil
}

// SetFanSpeed sets the fixture fan to percent (0..100). Fire-and-forget:
// the echoed response is consumed and logged only.
func (d *Driver) SetFanSpeed(percent int) error {
	cmd, err := FanSpeedCommand(percent)
	if err != nil {
		return err
	}
	_, err = d.exchange(cmd)
	return err
}

// Close releases the underlying transport. Idempotent.
func (d *Driver) Close() error {
	return d.tr.Close()
}
