// Package sqlstore persists sessions in a relational database. Postgres is
// reached through pgx and SQLite through a pure-Go driver; both share one table
// layout and one conditional UPDATE for the generation advance.
package sqlstore
