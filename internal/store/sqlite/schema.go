package sqlite

// schema is applied on open. Statements are idempotent so repeated starts
// against the same file are safe.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id              TEXT PRIMARY KEY,
	kind            TEXT NOT NULL,
	direct_key      TEXT UNIQUE,
	unit_id         TEXT,
	building_id     TEXT,
	request_id      TEXT,
	last_message_id TEXT,
	last_message_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_participants (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	unread_count    INTEGER NOT NULL DEFAULT 0,
	archived_at     DATETIME,
	joined_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (conversation_id, user_id),
	FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	receiver_id     TEXT,
	content         TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'sent',
	is_read         BOOLEAN NOT NULL DEFAULT 0,
	read_at         DATETIME,
	created_at      DATETIME NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);

CREATE TABLE IF NOT EXISTS message_attachments (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id  TEXT NOT NULL,
	position    INTEGER NOT NULL,
	filename    TEXT NOT NULL,
	storage_ref TEXT NOT NULL,
	size        INTEGER NOT NULL,
	mime_type   TEXT NOT NULL,
	FOREIGN KEY (message_id) REFERENCES messages(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id);
`
