package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/challenge"
	"schoolattendance/internal/clock"
	"schoolattendance/internal/config"
	"schoolattendance/internal/credential"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/httpmiddleware"
	"schoolattendance/internal/ledger"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/recovery"
	"schoolattendance/internal/store"
)

// components is everything the HTTP server needs, built for the configured backends.
type components struct {
	db        *store.DB
	redis     *store.Redis
	service   *attendance.Service
	geofences *geofence.Store
	limiter   httpmiddleware.Limiter
}

func (c *components) close() {
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			log.Printf("close postgres: %v", err)
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
}

// healthy reports each configured backend; memory backends are omitted.
func (c *components) healthy(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	if c.db != nil {
		out["db"] = c.db.Healthy(ctx)
	}
	if c.redis != nil {
		out["redis"] = c.redis.Healthy(ctx)
	}
	return out
}

func wire(ctx context.Context, cfg config.App, clk clock.Clock) (*components, error) {
	c := &components{}

	if cfg.StoreBackend == "postgres" {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("postgres: %w", err)
		}
		c.db = db
		if err := store.Migrate(ctx, db.Client); err != nil {
			c.close()
			return nil, err
		}
	}
	if cfg.ChallengeBackend == "redis" || cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		c.redis = store.NewRedis(cfg.RedisAddr)
		if !c.redis.Healthy(ctx) {
			log.Printf("warning: redis not reachable at %s", cfg.RedisAddr)
		}
	}

	var (
		directory  attendance.Directory
		geoRepo    geofence.Repository
		credRepo   credential.Repository
		codeRepo   recovery.Repository
		ledgerRepo ledger.Repository
	)
	if c.db != nil {
		directory = attendance.NewTeacherRepository(c.db.Client)
		geoRepo = geofence.NewPostgresRepository(c.db.Client)
		credRepo = credential.NewPostgresRepository(c.db.Client)
		codeRepo = recovery.NewPostgresRepository(c.db.Client)
		ledgerRepo = ledger.NewPostgresRepository(c.db.Client)
	} else {
		log.Println("STORE_BACKEND=memory: data is lost on restart")
		directory = attendance.NewMemoryDirectory(cfg.DevTeachers...)
		geoRepo = geofence.NewMemoryRepository()
		credRepo = credential.NewMemoryRepository()
		codeRepo = recovery.NewMemoryRepository()
		ledgerRepo = ledger.NewMemoryRepository()
	}

	var challenges challenge.Store
	if cfg.ChallengeBackend == "redis" {
		challenges = challenge.NewRedisStore(c.redis.Client, "")
	} else {
		mem := challenge.NewMemoryStore(clk)
		go mem.RunSweeper(ctx, time.Minute)
		challenges = mem
	}

	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(c.redis.Client, "")
	} else {
		// No separate worker can reach an in-process queue, so drain it here.
		mem := queue.NewInMemory(64)
		w := &notify.Worker{Queue: mem, Sink: notify.Delivery(cfg.NotifyWebhookURL)}
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Printf("notification worker stopped: %v", err)
			}
		}()
		q = mem
	}

	if cfg.RateLimitBackend == "redis" {
		c.limiter = httpmiddleware.NewRedisWindow(c.redis.Client, cfg.RateLimitPerMin, clk)
	} else {
		c.limiter = httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, clk)
	}

	c.geofences = geofence.NewStore(geoRepo, clk, cfg.GeofenceCacheTTL)
	c.service = attendance.NewService(attendance.Deps{
		Directory:  directory,
		Challenges: challenge.NewSession(challenges, cfg.ChallengeTTL),
		Registry: credential.NewRegistry(credRepo, credential.COSEVerifier{}, clk, credential.Options{
			RPID:                    cfg.RPID,
			Origin:                  cfg.RPOrigin,
			RequireUserVerification: cfg.RequireUserVerification,
		}),
		Geofences:               c.geofences,
		Vault:                   recovery.NewVault(codeRepo, recovery.BcryptHasher{Cost: cfg.BcryptCost}, clk),
		Ledger:                  ledger.New(ledgerRepo),
		Notifier:                notify.NewQueueSink(q),
		Clock:                   clk,
		RP:                      attendance.RelyingParty{ID: cfg.RPID, Name: cfg.RPName},
		RequireUserVerification: cfg.RequireUserVerification,
	})
	return c, nil
}
