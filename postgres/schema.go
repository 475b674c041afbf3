package postgres

// Schema is the reference DDL for the durable store. Hosts that run
// their own migration tooling can embed it or translate it; the column
// and constraint shapes are what [Store] expects.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
    user_id       TEXT PRIMARY KEY,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    status        SMALLINT NOT NULL DEFAULT 0,
    totp_enabled  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS totp_secrets (
    user_id           TEXT PRIMARY KEY REFERENCES credentials(user_id) ON DELETE CASCADE,
    secret            BYTEA NOT NULL,
    enabled           BOOLEAN NOT NULL DEFAULT FALSE,
    last_used_counter BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS devices (
    device_id     TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL REFERENCES credentials(user_id) ON DELETE CASCADE,
    fingerprint   TEXT NOT NULL,
    trusted       BOOLEAN NOT NULL DEFAULT FALSE,
    first_seen_at TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, fingerprint)
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id      TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL REFERENCES credentials(user_id) ON DELETE CASCADE,
    access_hash     BYTEA NOT NULL,
    refresh_hash    BYTEA NOT NULL,
    token_family_id TEXT NOT NULL,
    device_id       TEXT,
    remember_me     BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    revoked_at      TIMESTAMPTZ,
    revoke_reason   TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS sessions_user_active
    ON sessions (user_id, created_at)
    WHERE revoked_at IS NULL;

CREATE TABLE IF NOT EXISTS token_blacklist (
    token_hash BYTEA PRIMARY KEY,
    expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS backup_codes (
    id        TEXT PRIMARY KEY,
    user_id   TEXT NOT NULL REFERENCES credentials(user_id) ON DELETE CASCADE,
    code_hash BYTEA NOT NULL UNIQUE,
    used_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS backup_codes_user ON backup_codes (user_id);

CREATE TABLE IF NOT EXISTS login_attempts (
    id         BIGSERIAL PRIMARY KEY,
    user_id    TEXT NOT NULL DEFAULT '',
    email      TEXT NOT NULL DEFAULT '',
    ip         TEXT NOT NULL DEFAULT '',
    success    BOOLEAN NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);
`
