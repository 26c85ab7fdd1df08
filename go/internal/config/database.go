package config

import "fmt"

// Database holds Postgres connection settings for the rehearsal store.
type Database struct {
	Enabled  bool
	URL      string // overrides the individual fields when set
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// NewDatabaseFromEnv reads DB_* environment variables (with defaults).
func NewDatabaseFromEnv() Database {
	return Database{
		Enabled:  GetEnvBool("DB_ENABLED", false),
		URL:      GetEnv("DATABASE_URL", ""),
		Host:     GetEnv("DB_HOST", "localhost"),
		Port:     GetEnvInt("DB_PORT", 5432),
		User:     GetEnv("DB_USER", "postgres"),
		Password: GetEnv("DB_PASSWORD", "postgres"),
		Name:     GetEnv("DB_NAME", "deckpace"),
		SSLMode:  GetEnv("DB_SSLMODE", "disable"),
	}
}

// DSN returns the Postgres connection URL.
func (c Database) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}
