// Package sqlstore implements store.Store on database/sql.
//
// The same queries run on PostgreSQL through the pgx stdlib driver and on
// SQLite through the pure-Go modernc driver; both accept $N placeholders.
// Schema migrations for each dialect are embedded and applied with goose.
package sqlstore
