package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	apperrors "github.com/DiegoLinaresM/test-auto/lib/errors"
)

// Environment variables honored as overrides. The PG_* names and PASSWORD
// match what existing deployments already export.
const (
	EnvPGHost     = "PG_HOST"
	EnvPGPort     = "PG_PORT"
	EnvPGDatabase = "PG_DATABASE"
	EnvPGUser     = "PG_USER"
	EnvPGPassword = "PG_PASSWORD"
	EnvPassword   = "PASSWORD"
	EnvListen     = "AUTHD_LISTEN"
	EnvRedisURL   = "AUTHD_REDIS_URL"
)

// LoadEnvFile loads variables from a .env file into the process
// environment. Variables already set are not overwritten and a missing
// file is not an error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides configuration from the process environment.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Database.Host, EnvPGHost)
	set(&c.Database.Name, EnvPGDatabase)
	set(&c.Database.User, EnvPGUser)
	set(&c.Database.Password, EnvPGPassword, EnvPassword)
	set(&c.Server.Listen, EnvListen)
	set(&c.Session.RedisURL, EnvRedisURL)

	if v, ok := lookup(EnvPGPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q is not a port: %w", EnvPGPort, v, apperrors.ErrConfiguration)
		}
		c.Database.Port = port
	}
	return nil
}
