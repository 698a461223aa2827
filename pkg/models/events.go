package models

// SyncEventType tags events emitted by the sync engine.
type SyncEventType int

const (
	EventNewBlock SyncEventType = iota
	EventOutputReceived
	EventOutputSpent
	EventReorg
	EventSyncProgress
	EventPoolOutput
)

func (t SyncEventType) String() string {
	switch t {
	case EventNewBlock:
		return "newBlock"
	case EventOutputReceived:
		return "outputReceived"
	case EventOutputSpent:
		return "outputSpent"
	case EventReorg:
		return "reorg"
	case EventSyncProgress:
		return "syncProgress"
	case EventPoolOutput:
		return "poolOutput"
	default:
		return "unknown"
	}
}

// SyncEvent is pushed into the caller-provided sink. Within one block the
// order is: newBlock, then outputReceived before outputSpent, ascending by
// transaction index. Sinks must be synchronous and non-blocking.
type SyncEvent struct {
	Type         SyncEventType `json:"type"`
	Height       uint64        `json:"height"`
	BlockHash    [32]byte      `json:"blockHash,omitempty"`
	Output       *OwnedOutput  `json:"output,omitempty"`
	SpentTxID    [32]byte      `json:"spentTxid,omitempty"`
	ReorgDepth   uint64        `json:"reorgDepth,omitempty"`
	TargetHeight uint64        `json:"targetHeight,omitempty"`
}

// EventSink receives sync events. Implementations must not block; the engine
// calls them inline between storage commits.
type EventSink interface {
	OnEvent(ev SyncEvent)
}

// EventFunc adapts a function to the EventSink interface.
type EventFunc func(ev SyncEvent)

func (f EventFunc) OnEvent(ev SyncEvent) { f(ev) }
