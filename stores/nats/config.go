package nats

import "fmt"

// Config describes how to reach and shape the NATS JetStream-backed
// EventLog/SnapshotStore pair. Field names are kebab-case, the same
// adapter-surface convention stores/pgx.Config follows.
type Config struct {
	URL    string `toml:"url" env:"URL" envDefault:"nats://127.0.0.1:4222"`
	Stream string `toml:"stream" env:"STREAM" envDefault:"ges"`

	// EventsBucket names the JetStream stream that carries every
	// entity's event subjects (<stream>.events.<id>). The seq_no and
	// snapshot KeyValue buckets are always derived from Stream
	// (<stream>-seqno, <stream>-snapshots) rather than separately
	// configured, since they are private bookkeeping for this adapter.
	EventsBucket string `toml:"events-bucket" env:"EVENTS_BUCKET" envDefault:"ges-events"`

	// Setup gates creating the JetStream stream and KeyValue buckets if
	// they do not already exist.
	Setup bool `toml:"setup" env:"SETUP" envDefault:"false"`
}

func (c Config) seqNoBucket() string    { return fmt.Sprintf("%s-seqno", c.Stream) }
func (c Config) snapshotsBucket() string { return fmt.Sprintf("%s-snapshots", c.Stream) }
func (c Config) eventsSubjectPrefix() string { return fmt.Sprintf("%s.events", c.Stream) }
func (c Config) eventSubject(id string) string {
	return fmt.Sprintf("%s.%s", c.eventsSubjectPrefix(), id)
}
