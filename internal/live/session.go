package live

import (
	"time"

	"go.uber.org/zap"

	"binance-perp-grid-go/internal/models"
	"binance-perp-grid-go/internal/persistence"
)

// EventType defines the type of a session state mutation.
type EventType int

const (
	PositionUpdateEvent EventType = iota
	BalanceUpdateEvent
	OrdersReplacedEvent
	FillSeenEvent
	SeqAdvancedEvent
	snapshotRequest
)

// sessionEvent is a single serialized mutation of the session state.
type sessionEvent struct {
	Type     EventType
	Position *models.PositionState
	Balance  *models.BalanceState
	Orders   []models.Order
	FillID   int64
	Seq      int64
	reply    chan *models.SessionState
}

// SessionManager owns the live session state. All mutations flow through a
// single event loop, so callers on different goroutines never race; snapshots
// are deep copies handed out through the same loop. Persistence is
// asynchronous and must never block order placement.
type SessionManager struct {
	state           *models.SessionState
	repo            persistence.SessionRepository
	eventChannel    chan sessionEvent
	persistenceChan chan *models.SessionState
	stopChan        chan struct{}
	logger          *zap.Logger
}

// NewSessionManager creates a SessionManager around an initial state.
// repo may be nil, in which case nothing is persisted.
func NewSessionManager(initial *models.SessionState, repo persistence.SessionRepository, logger *zap.Logger) *SessionManager {
	return &SessionManager{
		state:           initial,
		repo:            repo,
		eventChannel:    make(chan sessionEvent, 1024),
		persistenceChan: make(chan *models.SessionState, 128),
		stopChan:        make(chan struct{}),
		logger:          logger,
	}
}

// Start begins the event processing and persistence loops.
func (sm *SessionManager) Start() {
	go sm.eventLoop()
	go sm.persistenceLoop()
	sm.logger.Info("SessionManager started.")
}

// Stop gracefully shuts down the SessionManager.
func (sm *SessionManager) Stop() {
	close(sm.stopChan)
	sm.logger.Info("SessionManager stopped.")
}

// ApplyPosition records a fresh position snapshot.
func (sm *SessionManager) ApplyPosition(p models.PositionState) {
	sm.eventChannel <- sessionEvent{Type: PositionUpdateEvent, Position: &p}
}

// ApplyBalance records a fresh balance snapshot.
func (sm *SessionManager) ApplyBalance(b models.BalanceState) {
	sm.eventChannel <- sessionEvent{Type: BalanceUpdateEvent, Balance: &b}
}

// ApplyOrders replaces the known resting order set.
func (sm *SessionManager) ApplyOrders(orders []models.Order) {
	cp := make([]models.Order, len(orders))
	copy(cp, orders)
	sm.eventChannel <- sessionEvent{Type: OrdersReplacedEvent, Orders: cp}
}

// ApplyFillID advances the reconciliation watermark. Lower IDs are ignored.
func (sm *SessionManager) ApplyFillID(id int64) {
	sm.eventChannel <- sessionEvent{Type: FillSeenEvent, FillID: id}
}

// ApplySeq persists the order sequence counter. Lower values are ignored.
func (sm *SessionManager) ApplySeq(seq int64) {
	sm.eventChannel <- sessionEvent{Type: SeqAdvancedEvent, Seq: seq}
}

// Snapshot returns a deep copy of the current state for safe concurrent reads.
func (sm *SessionManager) Snapshot() *models.SessionState {
	reply := make(chan *models.SessionState, 1)
	select {
	case sm.eventChannel <- sessionEvent{Type: snapshotRequest, reply: reply}:
		return <-reply
	case <-sm.stopChan:
		return nil
	}
}

func (sm *SessionManager) deepCopy() *models.SessionState {
	if sm.state == nil {
		return nil
	}
	cp := *sm.state
	if sm.state.RestingOrders != nil {
		cp.RestingOrders = make([]models.Order, len(sm.state.RestingOrders))
		copy(cp.RestingOrders, sm.state.RestingOrders)
	}
	return &cp
}

func (sm *SessionManager) eventLoop() {
	for {
		select {
		case event := <-sm.eventChannel:
			sm.processEvent(event)
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *SessionManager) persistenceLoop() {
	for {
		select {
		case stateToSave := <-sm.persistenceChan:
			if sm.repo != nil {
				if err := sm.repo.SaveSession(stateToSave); err != nil {
					sm.logger.Error("CRITICAL: failed to save session state", zap.Error(err))
				}
			}
		case <-sm.stopChan:
			return
		}
	}
}

func (sm *SessionManager) processEvent(event sessionEvent) {
	switch event.Type {
	case PositionUpdateEvent:
		sm.state.Position = *event.Position
	case BalanceUpdateEvent:
		sm.state.Balance = *event.Balance
	case OrdersReplacedEvent:
		sm.state.RestingOrders = event.Orders
	case FillSeenEvent:
		if event.FillID > sm.state.LastFillID {
			sm.state.LastFillID = event.FillID
		}
	case SeqAdvancedEvent:
		if event.Seq > sm.state.OrderSeq {
			sm.state.OrderSeq = event.Seq
		}
	case snapshotRequest:
		event.reply <- sm.deepCopy()
		return // read-only, no persistence needed
	}

	sm.state.UpdatedAtMs = time.Now().UnixMilli()

	// Hand a copy to the persistence loop; drop the write if the queue is
	// full rather than stall the control loop.
	if cp := sm.deepCopy(); cp != nil {
		select {
		case sm.persistenceChan <- cp:
		default:
			sm.logger.Warn("persistence queue full, dropping session snapshot")
		}
	}
}
