package types

// ---- Bus monitor state (retained) ----

type MonState struct {
	Level  string `json:"level"`  // e.g. "ready", "stopped"
	Status string `json:"status"` // freeform short code
	TS     int64  `json:"ts_ms"`
}

// BusStats is the per-probe transfer counter snapshot published on each
// monitor tick.
type BusStats struct {
	Name      string `json:"name"`
	Starts    uint32 `json:"starts"`
	StartErrs uint32 `json:"start_errs"`
	Dones     uint32 `json:"dones"`
	ErrEvents uint32 `json:"err_events"`
	Events    uint32 `json:"events"`
	TS        int64  `json:"ts_ms"`
}

// ---- Control replies ----

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	Error string `json:"error"`
}
