package fixture

import (
	"log"
	"math/rand"
	"sync"
)

// Sim simulates a Bitcrane fixture with a partially populated hashboard,
// for development and UI work without hardware. A few chip positions are
// dead and temperatures drift around a warm baseline.
type Sim struct {
	mu   sync.Mutex
	logf func(format string, args ...any)
	dead map[int]bool
	fan  int
}

// NewSim creates a simulated fixture. logf mirrors the real driver's log
// sink; nil falls back to the standard logger.
func NewSim(logf func(format string, args ...any)) *Sim {
	if logf == nil {
		logf = func(format string, args ...any) {
			log.Printf("[sim] "+format, args...)
		}
	}
	dead := make(map[int]bool)
	for i := 0; i < 3; i++ {
		dead[rand.Intn(45)] = true
	}
	return &Sim{logf: logf, dead: dead, fan: 50}
}

func (s *Sim) Ping(customHex string) (bool, error) {
	// Validate the hex exactly like the real driver so UI input errors
	// surface in simulation too.
	cmd, err := PingCommand(customHex)
	if err != nil {
		return false, err
	}
	s.logf("sending %s command: % X", cmd.Name, cmd.Bytes)
	s.logf("%s response: % X", cmd.Name, cmd.Bytes)
	return true, nil
}

func (s *Sim) PowerOn() error {
	s.logf("sending power-on command: % X", PowerOnCommand().Bytes)
	return nil
}

func (s *Sim) DetectChip(index int) (bool, error) {
	if _, err := ChipDetectCommand(index); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dead[index], nil
}

func (s *Sim) ReadTemperature(index int) (byte, bool, error) {
	if _, err := TempReadCommand(index); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead[index] {
		return 0, false, nil
	}
	// Warmer toward board center, cooler with more fan.
	temp := 55 + rand.Intn(10) - s.fan/20
	return byte(temp), true, nil
}

func (s *Sim) SetFanSpeed(percent int) error {
	if _, err := FanSpeedCommand(percent); err != nil {
		return err
	}
	s.mu.Lock()
	s.fan = percent
	s.mu.Unlock()
	s.logf("fan speed set to %d%%", percent)
	return nil
}

func (s *Sim) Close() error { return nil }
