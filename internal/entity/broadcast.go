package entity

type BroadcastState string

const (
	BroadcastStopped BroadcastState = "stopped"
	BroadcastRunning BroadcastState = "running"
	BroadcastPaused  BroadcastState = "paused"
)

type BroadcastOperation string

const (
	BroadcastStart   BroadcastOperation = "start"
	BroadcastPause   BroadcastOperation = "pause"
	BroadcastResume  BroadcastOperation = "resume"
	BroadcastStop    BroadcastOperation = "stop"
	BroadcastRestart BroadcastOperation = "restart"
)

func ParseBroadcastOperation(raw string) (BroadcastOperation, bool) {
	op := BroadcastOperation(raw)
	switch op {
	case BroadcastStart, BroadcastPause, BroadcastResume, BroadcastStop, BroadcastRestart:
		return op, true
	default:
		return "", false
	}
}

type SymbolStatus struct {
	Symbol      string `json:"symbol"`
	Records     int    `json:"records"`
	Cursor      int    `json:"cursor"`
	Emitted     uint64 `json:"emitted"`
	Subscribers int    `json:"subscribers"`
}

// BroadcastStatus is a point-in-time snapshot of the broadcast controller.
type BroadcastStatus struct {
	State        BroadcastState `json:"state"`
	SymbolCount  int            `json:"symbol_count"`
	TotalRecords int            `json:"total_records"`
	Symbols      []SymbolStatus `json:"symbols"`
}
