package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BridgeSeenStore records processed bridge message hashes in
// bridge.processed_messages.
type BridgeSeenStore struct {
	db *sql.DB
}

func NewBridgeSeenStore(db *sql.DB) *BridgeSeenStore {
	return &BridgeSeenStore{db: db}
}

func (s *BridgeSeenStore) Seen(ctx context.Context, id common.Hash) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM bridge.processed_messages WHERE message_hash = $1`, id.Bytes(),
	).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup bridge message %s: %w", id.Hex(), err)
	}
	return true, nil
}

func (s *BridgeSeenStore) MarkSeen(ctx context.Context, id common.Hash) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bridge.processed_messages (message_hash) VALUES ($1) ON CONFLICT DO NOTHING`, id.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("mark bridge message %s: %w", id.Hex(), err)
	}
	return nil
}

// Prune drops records older than retention and returns how many went.
func (s *BridgeSeenStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bridge.processed_messages WHERE processed_at < $1`, time.Now().Add(-retention),
	)
	if err != nil {
		return 0, fmt.Errorf("prune bridge messages: %w", err)
	}
	return res.RowsAffected()
}
