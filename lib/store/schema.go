package store

// Schema is the DDL for the credentials table read by LookupCredential.
// The primary key keeps identifiers unique; lookups still check for
// duplicates in case the table was created without it.
const Schema = `CREATE TABLE IF NOT EXISTS credentials (
    identifier     TEXT PRIMARY KEY,
    secret_hash    TEXT NOT NULL,
    account_status TEXT NOT NULL DEFAULT 'active',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
