package fixture

import (
	"errors"
	"testing"
	"time"
)

// scriptPort plays back canned responses: each Read consumes the next
// chunk; an exhausted script reads 0 bytes, like a serial timeout.
type scriptPort struct {
	reads   [][]byte
	readErr error // returned once the script is exhausted, if set
	writes  [][]byte
	closes  int
}

func (p *scriptPort) Read(b []byte) (int, error) {
	if len(p.reads) == 0 {
		return 0, p.readErr
	}
	chunk := p.reads[0]
	n := copy(b, chunk)
	if n < len(chunk) {
		p.reads[0] = chunk[n:]
	} else {
		p.reads = p.reads[1:]
	}
	return n, nil
}

func (p *scriptPort) Write(b []byte) (int, error) {
	p.writes = append(p.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (p *scriptPort) Close() error { p.closes++; return nil }

func (p *scriptPort) SetReadTimeout(time.Duration) error { return nil }

func (p *scriptPort) ResetInputBuffer() error { return nil }

func testDriver(port *scriptPort) *Driver {
	tr := &Transport{port: port, timeout: 50 * time.Millisecond}
	return NewDriver(tr, func(string, ...any) {})
}

func TestPingNoResponse(t *testing.T) {
	d := testDriver(&scriptPort{})
	alive, err := d.Ping("")
	if err != nil {
		t.Fatalf("Ping err=%v", err)
	}
	if alive {
		t.Fatalf("empty response reported alive")
	}
}

func TestPingAnyBytesCount(t *testing.T) {
	// A single garbage byte is enough: ping is deliberately not
	// header-validated.
	d := testDriver(&scriptPort{reads: [][]byte{{0x00}}})
	alive, err := d.Ping("")
	if err != nil {
		t.Fatalf("Ping err=%v", err)
	}
	if !alive {
		t.Fatalf("non-empty response reported dead")
	}
}

func TestDetectChip(t *testing.T) {
	port := &scriptPort{reads: [][]byte{
		{0xAA, 0x55, 0x00, 0, 0, 0, 0, 0, 0},
	}}
	d := testDriver(port)
	present, err := d.DetectChip(7)
	if err != nil {
		t.Fatalf("DetectChip err=%v", err)
	}
	if !present {
		t.Fatalf("valid response reported absent")
	}
	if len(port.writes) != 1 || port.writes[0][chipIndexOffset] != 7 {
		t.Fatalf("wrote % X, want chip index 7 at offset %d", port.writes[0], chipIndexOffset)
	}
}

func TestDetectChipTimeout(t *testing.T) {
	d := testDriver(&scriptPort{})
	present, err := d.DetectChip(0)
	if err != nil {
		t.Fatalf("timeout must not be an error, got %v", err)
	}
	if present {
		t.Fatalf("timeout reported present")
	}
}

func TestDetectChipSplitResponse(t *testing.T) {
	// Response arriving across two reads is still one valid frame.
	port := &scriptPort{reads: [][]byte{
		{0xAA, 0x55, 0x00, 0x00},
		{0x00, 0x00, 0x00, 0x00, 0x00},
	}}
	d := testDriver(port)
	present, err := d.DetectChip(0)
	if err != nil {
		t.Fatalf("DetectChip err=%v", err)
	}
	if !present {
		t.Fatalf("split response reported absent")
	}
}

func TestReadTemperature(t *testing.T) {
	port := &scriptPort{reads: [][]byte{
		{0xAA, 0x55, 55, 0, 0, 0, 0, 0, 0},
	}}
	d := testDriver(port)
	temp, ok, err := d.ReadTemperature(3)
	if err != nil {
		t.Fatalf("ReadTemperature err=%v", err)
	}
	if !ok || temp != 55 {
		t.Fatalf("temp=%d ok=%v, want 55 true", temp, ok)
	}
}

func TestReadTemperatureShortResponse(t *testing.T) {
	port := &scriptPort{reads: [][]byte{
		{0xAA, 0x55, 55, 0, 0}, // 5 of 9 bytes, then silence
	}}
	d := testDriver(port)
	_, ok, err := d.ReadTemperature(3)
	if err != nil {
		t.Fatalf("short read must not be an error, got %v", err)
	}
	if ok {
		t.Fatalf("short response produced a reading")
	}
}

func TestConnectionLossIsError(t *testing.T) {
	port := &scriptPort{readErr: errors.New("device gone")}
	d := testDriver(port)
	if _, err := d.DetectChip(0); err == nil {
		t.Fatalf("connection loss not reported")
	}
}

func TestCloseIdempotent(t *testing.T) {
	port := &scriptPort{}
	d := testDriver(port)
	if err := d.Close(); err != nil {
		t.Fatalf("first Close err=%v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close err=%v", err)
	}
	if port.closes != 1 {
		t.Fatalf("underlying port closed %d times, want 1", port.closes)
	}
}

func TestSetFanSpeedRejectsBeforeIO(t *testing.T) {
	port := &scriptPort{}
	d := testDriver(port)
	if err := d.SetFanSpeed(101); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("SetFanSpeed(101) err=%v, want ErrOutOfRange", err)
	}
	if len(port.writes) != 0 {
		t.Fatalf("invalid fan speed reached the wire: % X", port.writes)
	}
}
