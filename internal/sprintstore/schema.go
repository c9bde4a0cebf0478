package sprintstore

const schemaDDL = `
CREATE TABLE IF NOT EXISTS batches (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at       INTEGER NOT NULL,
	ended_at         INTEGER,
	max_cycles       INTEGER NOT NULL,
	cycles_completed INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id   INTEGER NOT NULL REFERENCES batches(id),
	story_key  TEXT NOT NULL,
	epic_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	started_at INTEGER,
	ended_at   INTEGER,
	UNIQUE (batch_id, story_key)
);

CREATE TABLE IF NOT EXISTS commands (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	story_id       INTEGER NOT NULL REFERENCES stories(id),
	command        TEXT NOT NULL,
	task_id        TEXT,
	started_at     INTEGER NOT NULL,
	ended_at       INTEGER,
	status         TEXT NOT NULL,
	output_summary TEXT
);

CREATE TABLE IF NOT EXISTS events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id   INTEGER NOT NULL REFERENCES batches(id),
	story_id   INTEGER REFERENCES stories(id),
	command_id INTEGER REFERENCES commands(id),
	timestamp  INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	epic_id    TEXT,
	story_key  TEXT,
	command    TEXT,
	task_id    TEXT,
	status     TEXT,
	message    TEXT
);

CREATE TABLE IF NOT EXISTS background_tasks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id     INTEGER NOT NULL REFERENCES batches(id),
	story_key    TEXT NOT NULL,
	task_type    TEXT NOT NULL,
	spawned_at   INTEGER NOT NULL,
	completed_at INTEGER,
	status       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stories_batch ON stories(batch_id);
CREATE INDEX IF NOT EXISTS idx_commands_story ON commands(story_id, id);
CREATE INDEX IF NOT EXISTS idx_events_batch ON events(batch_id, id);
CREATE INDEX IF NOT EXISTS idx_background_batch ON background_tasks(batch_id);
`

// migrate runs idempotent schema creation plus any additive column
// migrations.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return err
	}
	hasPayload, err := s.hasColumn("events", "payload_json")
	if err != nil {
		return err
	}
	if !hasPayload {
		if _, err := s.db.Exec(`ALTER TABLE events ADD COLUMN payload_json TEXT`); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) hasColumn(table, column string) (bool, error) {
	rows, err := s.db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
