package fixture

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Bitcrane wire format: fixed-length frames, no length prefix, no checksum.
// Host→fixture frames start with 0x55 0xAA followed by an opcode byte;
// fixture→host responses start with 0xAA 0x55. Response lengths are a
// per-command contract, not self-describing.
const (
	cmdHeader0 = 0x55
	cmdHeader1 = 0xAA

	respHeader0 = 0xAA
	respHeader1 = 0x55
)

const (
	opChipDetect = 0x01
	opTempRead   = 0x02
	opFanSpeed   = 0x03
	opPowerOn    = 0x52
)

const (
	chipFrameLen    = 8 // detect / temp-read / fan-speed command size
	chipRespLen     = 9 // detect / temp-read response size
	fanRespLen      = 8
	powerOnRespLen  = 7
	tempRespOffset  = 2 // temperature byte position in a valid response
	chipIndexOffset = 4 // chip index / fan percent position in the command
)

// DefaultPingCommand is the ping frame observed on current fixtures.
// The ping opcode and payload changed between firmware revisions, so the
// frame is caller-overridable rather than baked in.
const DefaultPingCommand = "55 AA 51 09 00 A4 90 00 FF FF 1C"

var (
	// ErrMalformedHex reports a caller-supplied ping string that is not
	// valid hexadecimal (odd length or non-hex characters).
	ErrMalformedHex = errors.New("fixture: malformed hex command")

	// ErrOutOfRange reports a chip index or fan percent outside the
	// range a command frame can carry.
	ErrOutOfRange = errors.New("fixture: value out of range")
)

// Command is one host→fixture frame together with the number of response
// bytes the fixture is expected to answer with.
type Command struct {
	Name    string // for log lines
	Bytes   []byte
	RespLen int
}

// PingCommand builds the ping frame. customHex, if non-empty, is decoded
// directly as the frame bytes ("55 AA ..." — spaces allowed); otherwise
// DefaultPingCommand is used. The expected response length equals the
// frame length: the fixture echoes a frame of the same size.
func PingCommand(customHex string) (Command, error) {
	if customHex == "" {
		customHex = DefaultPingCommand
	}
	raw, err := hex.DecodeString(strings.ReplaceAll(customHex, " ", ""))
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformedHex, customHex)
	}
	if len(raw) == 0 {
		return Command{}, fmt.Errorf("%w: empty command", ErrMalformedHex)
	}
	return Command{Name: "ping", Bytes: raw, RespLen: len(raw)}, nil
}

// PowerOnCommand builds the fixed 7-byte hashboard power-on frame.
func PowerOnCommand() Command {
	return Command{
		Name:    "power-on",
		Bytes:   []byte{cmdHeader0, cmdHeader1, opPowerOn, 0x05, 0x00, 0x00, 0x0A},
		RespLen: powerOnRespLen,
	}
}

// ChipDetectCommand builds the detect frame for one chip position.
func ChipDetectCommand(index int) (Command, error) {
	return chipCommand("chip-detect", opChipDetect, index)
}

// TempReadCommand builds the temperature-read frame for one chip position.
// It differs from the detect frame only in the opcode byte.
func TempReadCommand(index int) (Command, error) {
	return chipCommand("temp-read", opTempRead, index)
}

// FanSpeedCommand builds the fan-speed frame for a percent in [0, 100].
func FanSpeedCommand(percent int) (Command, error) {
	if percent < 0 || percent > 100 {
		return Command{}, fmt.Errorf("%w: fan speed %d%%", ErrOutOfRange, percent)
	}
	cmd, err := chipCommand("fan-speed", opFanSpeed, percent)
	if err != nil {
		return Command{}, err
	}
	cmd.RespLen = fanRespLen
	return cmd, nil
}

func chipCommand(name string, op byte, value int) (Command, error) {
	if value < 0 || value > 0xFF {
		return Command{}, fmt.Errorf("%w: %s value %d", ErrOutOfRange, name, value)
	}
	frame := make([]byte, chipFrameLen)
	frame[0] = cmdHeader0
	frame[1] = cmdHeader1
	frame[2] = op
	frame[chipIndexOffset] = byte(value)
	return Command{Name: name, Bytes: frame, RespLen: chipRespLen}, nil
}

// validResponse reports whether buf is a well-formed chip response:
// exactly 9 bytes starting with the 0xAA 0x55 marker.
func validResponse(buf []byte) bool {
	return len(buf) == chipRespLen && buf[0] == respHeader0 && buf[1] == respHeader1
}

// ParseDetectResponse reports chip presence. Anything other than a
// well-formed response (short read, header mismatch) means not detected.
func ParseDetectResponse(buf []byte) bool {
	return validResponse(buf)
}

// ParseTempResponse extracts the temperature byte from a well-formed
// response. ok is false for short or header-mismatched buffers — absence,
// not zero.
func ParseTempResponse(buf []byte) (temp byte, ok bool) {
	if !validResponse(buf) {
		return 0, false
	}
	return buf[tempRespOffset], true
}
