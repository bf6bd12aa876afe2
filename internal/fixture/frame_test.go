package fixture

import (
	"bytes"
	"errors"
	"testing"
)

func TestChipCommandsDifferOnlyInOpcode(t *testing.T) {
	for index := 0; index <= 255; index++ {
		det, err := ChipDetectCommand(index)
		if err != nil {
			t.Fatalf("ChipDetectCommand(%d) err=%v", index, err)
		}
		tmp, err := TempReadCommand(index)
		if err != nil {
			t.Fatalf("TempReadCommand(%d) err=%v", index, err)
		}
		if len(det.Bytes) != 8 || len(tmp.Bytes) != 8 {
			t.Fatalf("index %d: frame lengths %d/%d, want 8/8", index, len(det.Bytes), len(tmp.Bytes))
		}
		for i := range det.Bytes {
			if i == 2 {
				continue // opcode byte
			}
			if det.Bytes[i] != tmp.Bytes[i] {
				t.Fatalf("index %d: frames differ at offset %d beyond the opcode", index, i)
			}
		}
		if det.Bytes[2] == tmp.Bytes[2] {
			t.Fatalf("index %d: opcodes identical", index)
		}
		if det.Bytes[chipIndexOffset] != byte(index) {
			t.Fatalf("index %d not at payload offset %d: % X", index, chipIndexOffset, det.Bytes)
		}
	}
}

func TestChipCommandOutOfRange(t *testing.T) {
	if _, err := ChipDetectCommand(256); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("ChipDetectCommand(256) err=%v, want ErrOutOfRange", err)
	}
	if _, err := TempReadCommand(-1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("TempReadCommand(-1) err=%v, want ErrOutOfRange", err)
	}
}

func TestFanSpeedCommand(t *testing.T) {
	for _, bad := range []int{-1, 101} {
		if _, err := FanSpeedCommand(bad); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("FanSpeedCommand(%d) err=%v, want ErrOutOfRange", bad, err)
		}
	}
	for _, pct := range []int{0, 100} {
		cmd, err := FanSpeedCommand(pct)
		if err != nil {
			t.Fatalf("FanSpeedCommand(%d) err=%v", pct, err)
		}
		if cmd.Bytes[chipIndexOffset] != byte(pct) {
			t.Fatalf("FanSpeedCommand(%d): percent not at offset %d: % X", pct, chipIndexOffset, cmd.Bytes)
		}
		if cmd.RespLen != fanRespLen {
			t.Fatalf("FanSpeedCommand(%d): RespLen=%d, want %d", pct, cmd.RespLen, fanRespLen)
		}
	}
}

func TestPowerOnCommand(t *testing.T) {
	cmd := PowerOnCommand()
	want := []byte{0x55, 0xAA, 0x52, 0x05, 0x00, 0x00, 0x0A}
	if !bytes.Equal(cmd.Bytes, want) {
		t.Fatalf("PowerOnCommand = % X, want % X", cmd.Bytes, want)
	}
	if cmd.RespLen != 7 {
		t.Fatalf("PowerOnCommand RespLen=%d, want 7", cmd.RespLen)
	}
}

func TestPingCommand(t *testing.T) {
	cmd, err := PingCommand("")
	if err != nil {
		t.Fatalf("default ping err=%v", err)
	}
	if len(cmd.Bytes) != 11 || cmd.RespLen != 11 {
		t.Fatalf("default ping len=%d resp=%d, want 11/11", len(cmd.Bytes), cmd.RespLen)
	}

	cmd, err = PingCommand("55 AA 00")
	if err != nil {
		t.Fatalf("spaced hex err=%v", err)
	}
	if !bytes.Equal(cmd.Bytes, []byte{0x55, 0xAA, 0x00}) {
		t.Fatalf("spaced hex decoded to % X", cmd.Bytes)
	}

	for _, bad := range []string{"55A", "gg", "55 AA Z0"} {
		if _, err := PingCommand(bad); !errors.Is(err, ErrMalformedHex) {
			t.Fatalf("PingCommand(%q) err=%v, want ErrMalformedHex", bad, err)
		}
	}
}

func TestParseDetectResponse(t *testing.T) {
	for length := 0; length <= 12; length++ {
		buf := make([]byte, length)
		if length > 1 {
			buf[0], buf[1] = 0xAA, 0x55
		}
		want := length == 9
		if got := ParseDetectResponse(buf); got != want {
			t.Fatalf("length %d with header: got %v, want %v", length, got, want)
		}
	}

	// Header mismatch at the right length
	bad := []byte{0x55, 0xAA, 0, 0, 0, 0, 0, 0, 0}
	if ParseDetectResponse(bad) {
		t.Fatalf("header-mismatched 9-byte buffer reported present")
	}
}

func TestParseTempResponse(t *testing.T) {
	valid := []byte{0xAA, 0x55, 0x37, 0, 0, 0, 0, 0, 0}
	temp, ok := ParseTempResponse(valid)
	if !ok || temp != 0x37 {
		t.Fatalf("valid buffer: temp=%#x ok=%v, want 0x37 true", temp, ok)
	}

	short := valid[:8]
	if _, ok := ParseTempResponse(short); ok {
		t.Fatalf("8-byte buffer produced a reading")
	}

	mismatch := append([]byte(nil), valid...)
	mismatch[0] = 0x55
	if _, ok := ParseTempResponse(mismatch); ok {
		t.Fatalf("header-mismatched buffer produced a reading")
	}
}
