package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/caarlos0/env/v6"
	"github.com/chucky-1/papertrade/internal/config"
	"github.com/chucky-1/papertrade/internal/oracle"
	"github.com/chucky-1/papertrade/internal/repository"
	"github.com/chucky-1/papertrade/internal/server"
	"github.com/chucky-1/papertrade/internal/service"
	"github.com/go-redis/cache/v8"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4/pgxpool"
	log "github.com/sirupsen/logrus"
)

func main() {
	// Configuration
	cfg := new(config.Config)
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("%v", err)
	}

	// Postgres
	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		cfg.UsernamePostgres, cfg.PasswordPostgres, cfg.HostPostgres, cfg.PortPostgres, cfg.DBNamePostgres)
	pool, err := pgxpool.Connect(context.Background(), url)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	rep := repository.NewRepository(pool)
	if err = rep.Migrate(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	// Redis cache
	hostAndPort := fmt.Sprint(cfg.HostRedisCache, ":", cfg.PortRedisCache)
	ring := redis.NewRing(&redis.RingOptions{Addrs: map[string]string{cfg.ServerRedisCache: hostAndPort}})
	c := cache.New(&cache.Options{Redis: ring})

	// Price oracle. Trades quote fresh, the snapshot reads through the cache
	orc := oracle.New(&http.Client{Timeout: cfg.OracleTimeout}, cfg.ScannerURL, cfg.BinanceURL)
	quotes := oracle.NewCached(orc, c, cfg.QuoteTTL)

	srv := service.NewService(rep, orc, quotes)

	hostAndPort = fmt.Sprint(cfg.HostHTTP, ":", cfg.PortHTTP)
	log.Infof("listening on %s", hostAndPort)
	if err = server.New(srv).Run(hostAndPort); err != nil {
		log.Fatalf("%v", err)
	}
}
