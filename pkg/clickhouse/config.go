package clickhouse

import "time"

// Option tunes the pool before it is opened.
type Option func(*Settings)

// Settings describes how the snapshot store reaches ClickHouse.
type Settings struct {
	Addrs    []string
	Database string
	User     string
	Password string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration

	// AsyncInsert lets the server buffer the small per-account inserts.
	AsyncInsert  bool
	WaitForAsync bool
}

func defaultSettings() Settings {
	return Settings{
		Database:        "default",
		User:            "default",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     10 * time.Second,
	}
}

// WithAddrs sets the native-protocol endpoints (host:port).
func WithAddrs(addrs ...string) Option {
	return func(s *Settings) { s.Addrs = append(s.Addrs[:0], addrs...) }
}

// WithDatabase sets the database name.
func WithDatabase(database string) Option {
	return func(s *Settings) { s.Database = database }
}

// WithCredentials sets username and password.
func WithCredentials(user, password string) Option {
	return func(s *Settings) {
		s.User = user
		s.Password = password
	}
}

// WithTimeouts sets dial and read timeouts.
func WithTimeouts(dial, read time.Duration) Option {
	return func(s *Settings) {
		s.DialTimeout = dial
		s.ReadTimeout = read
	}
}

// WithAsyncInsert toggles server-side insert buffering.
func WithAsyncInsert(enabled, wait bool) Option {
	return func(s *Settings) {
		s.AsyncInsert = enabled
		s.WaitForAsync = wait
	}
}
