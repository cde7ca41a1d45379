package pg

import (
	"database/sql"
	"fmt"
	"strings"
)

// Config holds the connection settings for one side of the read/write
// split. SSLMode is optional and defaults to disable.
type Config struct {
	User     string `env:"USER"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	Password string `env:"PASSWORD"`
	Database string `env:"DBNAME"`
	SSLMode  string `env:"SSLMODE"`
}

func (c Config) dsn() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + c.Host,
		"user=" + c.User,
		"password=" + c.Password,
		"dbname=" + c.Database,
		"port=" + c.Port,
		"sslmode=" + sslMode,
	}
	return strings.Join(parts, " ")
}

func newSqlConnection(config Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	return db, nil
}
