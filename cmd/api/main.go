package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"radius-portal/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()
	startedAt := time.Now()

	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	// Refuse to serve against a database the FreeRADIUS schema or the portal migrations are missing from.
	if err := core.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema check failed: %v", err)
	}

	var redisClient *redis.Client
	if cfg.CodeStash == "redis" {
		redisClient, err = core.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
	}

	store, err := core.NewSessionStore(cfg)
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}

	var stashClient core.RedisClientRaw
	if redisClient != nil {
		stashClient = redisClient
	}
	stashes, err := core.NewCodeStashFactory(cfg, stashClient)
	if err != nil {
		log.Fatalf("failed to init code stash: %v", err)
	}

	uow := core.NewPgUnitOfWork(db)
	svc := core.NewProvisioningService(uow, cfg, logger)
	status := func(ctx context.Context) core.SystemStatus {
		return core.CollectSystemStatus(ctx, db, db, uow.Stores().Attributes, startedAt)
	}

	router := core.NewRouter(cfg, store, svc, stashes, status, logger)

	addr := fmt.Sprintf(":%s", cfg.Port)
	logger.Info("starting api server", "addr", addr, "code_stash", cfg.CodeStash)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
