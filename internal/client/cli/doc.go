// Package cli provides the interactive gardenkeeper command-line client.
//
// NewApp wires configuration, the local SQLite store, the data manager, the
// sync engine and the backup service. Run starts background sync and
// automatic backups and then blocks in a REPL until the user exits.
//
// Commands cover the whole local-first workflow:
//   - list / show / add / edit / delete records of any type
//   - search, stats, settings and per-record history
//   - status, sync, conflicts and resolve for the outbound queue
//   - backup, backups, verify, restore, export and import for snapshots
//
// Record fields are entered as name=value lines; values that parse as JSON
// keep their JSON type.
package cli
