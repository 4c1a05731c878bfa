package store

// Opts holds configuration options for storage backends.
type Opts struct {
	// DSN is the data source name: a connection string for Postgres, a file
	// path for SQLite.
	DSN string
}

// Option defines a configuration option for storage backends.
type Option func(*Opts)

// WithDSN sets the data source name for the store.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}
