package sqlite

// initSchema creates the database schema if it doesn't exist.
func (db *DB) initSchema() error {
	schema := `
	-- One row per peer session served by a pipe server
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		pipe_name TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL,
		bytes_in INTEGER NOT NULL DEFAULT 0,
		bytes_out INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_pipe_name ON sessions(pipe_name, started_at DESC);
	`

	_, err := db.conn.Exec(schema)
	return err
}
