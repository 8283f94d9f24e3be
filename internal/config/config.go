// Package config has a configuration structure
package config

import "time"

// Config contains configuration data
type Config struct {
	UsernamePostgres string `env:"POSTGRES_USER" envDefault:"postgres"`
	PasswordPostgres string `env:"POSTGRES_PASSWORD" envDefault:"testpassword"`
	HostPostgres     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PortPostgres     string `env:"POSTGRES_PORT" envDefault:"5432"`
	DBNamePostgres   string `env:"POSTGRES_DB" envDefault:"postgres"`

	ServerRedisCache string `env:"REDIS_SERVER" envDefault:"server1"`
	HostRedisCache   string `env:"REDIS_HOST" envDefault:"localhost"`
	PortRedisCache   string `env:"REDIS_PORT" envDefault:"6379"`

	HostHTTP string `env:"HOST_HTTP" envDefault:""`
	PortHTTP string `env:"PORT_HTTP" envDefault:"8080"`

	ScannerURL    string        `env:"SCANNER_URL" envDefault:"https://scanner.tradingview.com"`
	BinanceURL    string        `env:"BINANCE_URL" envDefault:"https://api.binance.com"`
	OracleTimeout time.Duration `env:"ORACLE_TIMEOUT" envDefault:"10s"`
	QuoteTTL      time.Duration `env:"QUOTE_TTL" envDefault:"30s"`
}
