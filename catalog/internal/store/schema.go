package store

// Schema contains the DDL for the catalog tables.
//
// Texture ids are not unique: the catalog accepts duplicates and every
// lookup resolves to the earliest inserted row (lowest seq).
const Schema = `
CREATE TABLE IF NOT EXISTS textures (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT NOT NULL,
    name         TEXT NOT NULL,
    url          TEXT NOT NULL,
    preview_url  TEXT NOT NULL DEFAULT '',
    category     TEXT NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_textures_id ON textures(id, seq);

-- Studio-wide settings (watermark text, ...)
CREATE TABLE IF NOT EXISTS settings (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL,
    updated_at  INTEGER NOT NULL
);
`
