package historydb

import "errors"

var (
	// Connection errors, mirroring the teacher's db.Config validation
	// taxonomy (there: per-field; here: a single DSN string, so only a
	// presence check applies).
	ErrMissingDSN    = errors.New("history database dsn is required")
	ErrFailedConnect = errors.New("failed to connect to history database")
	ErrFailedPing    = errors.New("failed to ping history database")
	ErrFailedClose   = errors.New("failed to close history database connection")
	ErrNilDatabase   = errors.New("history database connection is nil")
)
