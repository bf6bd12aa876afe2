package fixture

import "sort"

// MinerProfile describes one supported hashboard model. Profiles are
// static and read-only for the process lifetime.
type MinerProfile struct {
	Name             string `json:"name"`
	ChipCount        int    `json:"chipCount"`
	HasAuxController bool   `json:"hasAuxController"` // onboard PIC present
}

// Chip counts follow the fixture vendor's board documentation; the S17
// count was revised from 48 to 45 as the protocol was mapped out, which
// is why sweeps also accept a per-run chip count override.
var profiles = map[string]MinerProfile{
	"Antminer S17":      {Name: "Antminer S17", ChipCount: 45, HasAuxController: true},
	"Antminer S19k Pro": {Name: "Antminer S19k Pro", ChipCount: 126, HasAuxController: false},
}

// LookupProfile returns the profile registered under name.
func LookupProfile(name string) (MinerProfile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Profiles returns all registered profiles sorted by name.
func Profiles() []MinerProfile {
	out := make([]MinerProfile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
