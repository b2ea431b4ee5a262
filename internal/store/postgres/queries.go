package postgres

// content_items is owned by the CMS; it is created here only so a fresh
// database is usable in development.
const querySchema = `
CREATE TABLE IF NOT EXISTS build_state (
    id            SMALLINT PRIMARY KEY CHECK (id = 1),
    last_hash     TEXT NOT NULL DEFAULT '',
    version       BIGINT NOT NULL DEFAULT 0,
    last_build_at TIMESTAMPTZ,
    updated_at    TIMESTAMPTZ
);
INSERT INTO build_state (id) VALUES (1) ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS content_items (
    id           TEXT PRIMARY KEY,
    content_type TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    body         TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL,
    modified_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_items_status ON content_items (status);
`

const queryGetBuildState = `
SELECT last_hash, version, last_build_at, updated_at
FROM build_state
WHERE id = 1
`

// The hash guard in WHERE makes this the single serialization point:
// PostgreSQL takes the row lock before re-evaluating the predicate, so of
// N concurrent updates carrying the same hash only one returns a row.
const queryCompareAndUpdate = `
UPDATE build_state
SET last_hash = $1,
    version = version + 1,
    last_build_at = GREATEST(COALESCE(last_build_at, $2), $2),
    updated_at = $2
WHERE id = 1
  AND last_hash <> $1
RETURNING last_hash, version, last_build_at, updated_at
`

const queryForceUpdate = `
UPDATE build_state
SET last_hash = $1,
    version = version + 1,
    last_build_at = GREATEST(COALESCE(last_build_at, $2), $2),
    updated_at = $2
WHERE id = 1
RETURNING last_hash, version, last_build_at, updated_at
`

const queryListPublishable = `
SELECT id, content_type, title, body, status, modified_at
FROM content_items
WHERE status = 'publish'
`

const queryCountPublishable = `
SELECT content_type, COUNT(*)
FROM content_items
WHERE status = 'publish'
GROUP BY content_type
`

const queryGetSetting = `
SELECT value FROM settings WHERE key = $1
`

const queryUpsertSetting = `
INSERT INTO settings (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
`

const queryUpsertContent = `
INSERT INTO content_items (id, content_type, title, body, status, modified_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET content_type = EXCLUDED.content_type,
    title = EXCLUDED.title,
    body = EXCLUDED.body,
    status = EXCLUDED.status,
    modified_at = EXCLUDED.modified_at
`
