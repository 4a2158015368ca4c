package persistence

import "binance-perp-grid-go/internal/models"

// SessionRepository defines the interface for live session persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the control loop.
type SessionRepository interface {
	// SaveSession atomically saves the session state for its symbol.
	SaveSession(state *models.SessionState) error

	// LoadSession loads the session state for the given symbol.
	// If no state is found, it returns (nil, nil).
	LoadSession(symbol string) (*models.SessionState, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
