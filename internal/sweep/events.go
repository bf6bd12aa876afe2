package sweep

// Kind discriminates the events a sweep emits. For one sweep the order
// is fixed: connected, ping, power-on, one chip event per position
// polled, then done — with log events interleaved throughout.
type Kind string

const (
	KindLog       Kind = "log"
	KindConnected Kind = "connected"
	KindPing      Kind = "ping"
	KindPowerOn   Kind = "power-on"
	KindChip      Kind = "chip"
	KindDone      Kind = "done"
)

// ChipResult is the outcome for one chip position. Temperature is nil
// when the chip was absent or gave no valid reading.
type ChipResult struct {
	Chip        int   `json:"chip"`
	Present     bool  `json:"present"`
	Temperature *byte `json:"temperature,omitempty"`
}

// Terminal closes a sweep's event stream. Exactly one of clean
// completion, cancellation, or failure-with-reason.
type Terminal struct {
	Success   bool   `json:"success"`
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

// Event is one entry in a sweep's ordered stream. The pointer fields are
// populated per Kind; Stamp is unix milliseconds.
type Event struct {
	Kind    Kind        `json:"kind"`
	Message string      `json:"message,omitempty"`
	OK      *bool       `json:"ok,omitempty"` // ping / power-on outcome
	Chip    *ChipResult `json:"chip,omitempty"`
	Done    *Terminal   `json:"done,omitempty"`
	Stamp   int64       `json:"stamp"`
}

// State names the phases of one sweep.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StatePinging
	StatePoweringOn
	StatePolling
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePinging:
		return "pinging"
	case StatePoweringOn:
		return "powering-on"
	case StatePolling:
		return "polling"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}
