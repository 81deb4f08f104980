package store

// schemaSQL is the DDL for the base schema. Later changes go in migrations.
const schemaSQL = `
-- One row per slide. deck_hash identifies the deck file content,
-- slide_hash the slide content within it.
CREATE TABLE IF NOT EXISTS slides (
    id INTEGER PRIMARY KEY,
    deck_hash TEXT NOT NULL,
    slide_hash TEXT NOT NULL,
    deck_name TEXT NOT NULL,
    deck_modified TEXT NOT NULL,
    deck_path TEXT NOT NULL,
    slide_number INTEGER NOT NULL,
    text TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    UNIQUE(deck_hash, slide_number)
);

CREATE INDEX IF NOT EXISTS idx_slides_deck_hash ON slides(deck_hash);
CREATE INDEX IF NOT EXISTS idx_slides_slide_hash ON slides(slide_hash);
CREATE INDEX IF NOT EXISTS idx_slides_modified ON slides(deck_modified);
`
