package app

import (
	"github.com/pongarena/authd/internal/cache"
	"github.com/pongarena/authd/internal/database"
)

// RedisConfig converts the loaded settings into the Redis store configuration.
func (c *Config) RedisConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  c.Cache.Redis.Address,
		Username: c.Cache.Redis.Username,
		Password: c.Cache.Redis.Password,
		DB:       c.Cache.Redis.DB,
		TLS:      c.Cache.Redis.TLS,
		Timeout:  c.Cache.Redis.Timeout,
	}
}

// DatabaseConfig converts the loaded settings into the database open options.
func (c *Config) DatabaseConfig() database.Config {
	return database.Config{
		Driver:   c.Database.Driver,
		Path:     c.Database.Path,
		DSN:      c.Database.DSN,
		Host:     c.Database.Postgres.Host,
		Port:     c.Database.Postgres.Port,
		Name:     c.Database.Postgres.Database,
		User:     c.Database.Postgres.Username,
		Password: c.Database.Postgres.Password,
		SSLMode:  c.Database.Postgres.SSLMode,
	}
}
