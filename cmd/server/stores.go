package main

import (
	"usher/internal/abuse/limiter"
	"usher/internal/abuse/suspension"
	suspensionstore "usher/internal/abuse/store/suspension"
	windowstore "usher/internal/abuse/store/window"
	"usher/internal/auth/service"
	challengestore "usher/internal/auth/store/challenge"
	refreshstore "usher/internal/auth/store/refresh"
	"usher/internal/auth/workers/cleanup"
	"usher/internal/platform/config"
	platformredis "usher/internal/platform/redis"
)

// The store interfaces below join the views the service and the cleanup
// worker each need, so one instance per store serves both. Both the
// in-memory and the Redis implementations satisfy them.

type challengeStore interface {
	service.ChallengeStore
	cleanup.ChallengeStore
}

type refreshTokenStore interface {
	service.RefreshTokenStore
	cleanup.RefreshTokenStore
}

type suspensionStore interface {
	suspension.Store
	cleanup.SuspensionStore
}

type windowStore interface {
	limiter.Store
	cleanup.WindowStore
}

// storeSet bundles the store implementations chosen at boot.
type storeSet struct {
	challenges    challengeStore
	refreshTokens refreshTokenStore
	suspensions   suspensionStore
	windows       windowStore
}

// buildStores picks Redis-backed stores when a client is configured and
// process-local in-memory stores otherwise. Mixing the two is not
// supported; the whole set moves together.
func buildStores(cfg *config.Config, rdb *platformredis.Client) storeSet {
	if rdb != nil {
		return storeSet{
			challenges:    challengestore.NewRedis(rdb.Client, cfg.OTP.TTL),
			refreshTokens: refreshstore.NewRedis(rdb.Client),
			suspensions:   suspensionstore.NewRedis(rdb.Client),
			windows:       windowstore.NewRedis(rdb.Client),
		}
	}
	return storeSet{
		challenges:    challengestore.NewInMemoryStore(cfg.OTP.TTL),
		refreshTokens: refreshstore.NewInMemoryStore(),
		suspensions:   suspensionstore.NewInMemory(),
		windows:       windowstore.NewInMemoryStore(),
	}
}
