package store

import (
	"context"
)

// Store persists state that must outlive the process. Today that is the
// set of notification ids the server confirmed as read, per account.
type Store interface {
	// ReadReceipts returns the confirmed read ids of account, ascending.
	ReadReceipts(ctx context.Context, account string) ([]int64, error)

	// SaveReadReceipts records ids as read for account. Existing ids are
	// kept with their original timestamp.
	SaveReadReceipts(ctx context.Context, account string, ids []int64) error

	// ClearAccount removes every receipt of account.
	ClearAccount(ctx context.Context, account string) error

	Close() error
}
