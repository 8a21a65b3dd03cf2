package main

import (
	"context"
	"log"
	"os"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/clock"
	"schoolattendance/internal/config"
	"schoolattendance/internal/credential"
	"schoolattendance/internal/geofence"
	"schoolattendance/internal/recovery"
	"schoolattendance/internal/store"
)

var logger *log.Logger

func main() {
	logger = log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)

	cfg := config.Load()
	loc, err := cfg.Location()
	errAndDie(err)
	clk := clock.Real(loc)

	ctx := context.Background()
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	errAndDie(err)

	cli := commandLine{
		migrate:  func(ctx context.Context) error { return store.Migrate(ctx, db.Client) },
		teachers: attendance.NewTeacherRepository(db.Client),
		vault: recovery.NewVault(recovery.NewPostgresRepository(db.Client),
			recovery.BcryptHasher{Cost: cfg.BcryptCost}, clk),
		registry: credential.NewRegistry(credential.NewPostgresRepository(db.Client), credential.COSEVerifier{}, clk,
			credential.Options{RPID: cfg.RPID, Origin: cfg.RPOrigin, RequireUserVerification: cfg.RequireUserVerification}),
		geofences: geofence.NewStore(geofence.NewPostgresRepository(db.Client), clk, 0),
		tokens: tokenSettings{
			Issuer:     cfg.JWTIssuer,
			SigningKey: cfg.JWTSigningKey,
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		},
		out: os.Stdout,
	}
	err = cli.run(ctx, os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Printf("error: %s", err)
		}
		os.Exit(1)
	}
}

func errAndDie(err error) {
	if err != nil {
		logger.Fatal(err)
	}
}
