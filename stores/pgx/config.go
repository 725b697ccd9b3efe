package pgx

import "fmt"

// Config describes how to reach and shape the PostgreSQL-backed
// EventLog/SnapshotStore pair. Field names are kebab-case so the same
// struct loads cleanly from TOML via internal/config, matching the
// adapter-surface convention shared with stores/nats.
type Config struct {
	Host     string `toml:"host" env:"HOST" envDefault:"localhost"`
	Port     int    `toml:"port" env:"PORT" envDefault:"5432"`
	User     string `toml:"user" env:"USER" envDefault:"postgres"`
	Password string `toml:"password" env:"PASSWORD"`
	DBName   string `toml:"dbname" env:"DBNAME" envDefault:"ges"`
	SSLMode  string `toml:"sslmode" env:"SSLMODE" envDefault:"disable"`

	EventsTable    string `toml:"events-table" env:"EVENTS_TABLE" envDefault:"events"`
	SnapshotsTable string `toml:"snapshots-table" env:"SNAPSHOTS_TABLE" envDefault:"snapshots"`

	// Setup gates running CREATE TABLE IF NOT EXISTS against EventsTable
	// and SnapshotsTable when the pool is opened. Production deployments
	// normally manage schema out of band and leave this false.
	Setup bool `toml:"setup" env:"SETUP" envDefault:"false"`
}

// DSN renders the libpq connection string pgxpool.New expects.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
