package persistence

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v3"

	"binance-perp-grid-go/internal/models"
)

// badgerRepository is the BadgerDB implementation of the SessionRepository.
type badgerRepository struct {
	db *badger.DB
}

const sessionKeyPrefix = "session_state:"

// NewBadgerRepository creates a repository backed by a BadgerDB database at dbPath.
func NewBadgerRepository(dbPath string) (SessionRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db}, nil
}

func sessionKey(symbol string) []byte {
	return []byte(sessionKeyPrefix + symbol)
}

// SaveSession marshals the session state into JSON and saves it under the
// symbol's key in a single transaction.
func (r *badgerRepository) SaveSession(state *models.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(state.Symbol), data)
	})
}

// LoadSession loads the session state for symbol.
// A missing key is the expected "fresh session" case and returns (nil, nil).
func (r *badgerRepository) LoadSession(symbol string) (*models.SessionState, error) {
	var state models.SessionState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sessionKey(symbol))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("session value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
