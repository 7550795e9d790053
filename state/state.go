package state

import (
	"github.com/goccy/go-json"
)

// LatchState is what survives a restart: the latched schema source and the
// counters describing how the cache was used.
type LatchState struct {
	Engine string `json:"engine"`
	Schema string `json:"schema"`
	Stats  Stats  `json:"stats"`
}

type Stats struct {
	Compilations uint64 `json:"compilations"`
	Hits         uint64 `json:"hits"`
	Transient    uint64 `json:"transient"`
	Replacements uint64 `json:"replacements"`
}

func NewLatchState(engine string) LatchState {
	return LatchState{
		Engine: engine,
	}
}

func FromJson(data []byte) (LatchState, error) {
	var latchState LatchState
	err := json.Unmarshal(data, &latchState)
	return latchState, err
}

func (s *LatchState) ToJson() ([]byte, error) {
	return json.Marshal(s)
}
