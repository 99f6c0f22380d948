package storage

const schema = `
-- The 'col' table holds the single collection metadata row.
CREATE TABLE IF NOT EXISTS col (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    guid TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    modified_at DATETIME NOT NULL,
    schema_modified_at DATETIME NOT NULL,
    sched_ver INTEGER NOT NULL DEFAULT 2,
    last_unburied INTEGER NOT NULL DEFAULT 0
);

-- The 'deck_configs' table stores config groups as JSON documents.
CREATE TABLE IF NOT EXISTS deck_configs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    config TEXT NOT NULL,
    modified_at DATETIME NOT NULL
);

-- The 'decks' table stores normal and filtered decks. Nesting is encoded in
-- the name with '::'. 'filtered' is NULL for normal decks.
CREATE TABLE IF NOT EXISTS decks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    config_id INTEGER NOT NULL DEFAULT 1,
    filtered TEXT,
    collapsed INTEGER NOT NULL DEFAULT 0,
    new_today_day INTEGER NOT NULL DEFAULT 0,
    new_today_count INTEGER NOT NULL DEFAULT 0,
    review_today_day INTEGER NOT NULL DEFAULT 0,
    review_today_count INTEGER NOT NULL DEFAULT 0,
    modified_at DATETIME NOT NULL
);

-- The 'cards' table stores the scheduling state of each card. 'due' is a
-- position for new cards, epoch seconds for intraday learning and preview,
-- and a day number otherwise.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    note_id INTEGER NOT NULL,
    deck_id INTEGER NOT NULL,
    ord INTEGER NOT NULL DEFAULT 0,
    type INTEGER NOT NULL DEFAULT 0,
    queue INTEGER NOT NULL DEFAULT 0,
    due INTEGER NOT NULL DEFAULT 0,
    ivl INTEGER NOT NULL DEFAULT 0,
    factor INTEGER NOT NULL DEFAULT 0,
    reps INTEGER NOT NULL DEFAULT 0,
    lapses INTEGER NOT NULL DEFAULT 0,
    remaining INTEGER NOT NULL DEFAULT 0,
    original_deck_id INTEGER NOT NULL DEFAULT 0,
    original_due INTEGER NOT NULL DEFAULT 0,
    original_position INTEGER NOT NULL DEFAULT 0,
    tags TEXT NOT NULL DEFAULT '',
    modified_at DATETIME NOT NULL,

    FOREIGN KEY(deck_id) REFERENCES decks(id)
);
CREATE INDEX IF NOT EXISTS idx_cards_deck_queue ON cards (deck_id, queue, due);
CREATE INDEX IF NOT EXISTS idx_cards_note ON cards (note_id);

-- The 'revlog' table is the append-only review log. 'ivl' and 'last_ivl' are
-- days when positive and seconds when negative.
CREATE TABLE IF NOT EXISTS revlog (
    id TEXT PRIMARY KEY,
    card_id INTEGER NOT NULL,
    answered_at INTEGER NOT NULL, -- epoch milliseconds
    rating INTEGER NOT NULL,
    ivl INTEGER NOT NULL,
    last_ivl INTEGER NOT NULL,
    factor INTEGER NOT NULL,
    taken_ms INTEGER NOT NULL,
    kind INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revlog_answered ON revlog (answered_at);
CREATE INDEX IF NOT EXISTS idx_revlog_card ON revlog (card_id);

-- The 'config' table is the flat key-value collection config.
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
