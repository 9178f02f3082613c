package app

import (
	"fmt"

	artifactcache "medianalyst/internal/cache/artifact"
	"medianalyst/internal/gateway/config"
	artifactrepo "medianalyst/internal/gateway/repository/artifact"
	"medianalyst/internal/gateway/repository/history"
	"medianalyst/internal/logger"
)

// NewHistory opens the configured history backend.
func NewHistory(cfg *config.Config, log *logger.Logger) (*history.Store, error) {
	backend, err := history.OpenBackend(history.Options{
		Backend:     cfg.History.Backend,
		FilePath:    cfg.History.FilePath,
		PostgresDSN: cfg.History.PostgresDSN,
		RedisAddr:   cfg.History.RedisAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("open history backend: %w", err)
	}
	log.Info("history store", "backend", cfg.History.Backend)
	return history.New(backend, log), nil
}

// NewArtifacts picks the artifact origin and fronts it with the read cache.
// An incomplete S3 configuration falls back to memory.
func NewArtifacts(cfg *config.Config, log *logger.Logger) (artifactrepo.Store, func() error, error) {
	noop := func() error { return nil }
	var origin artifactrepo.Store
	closer := noop

	switch cfg.Artifact.Backend {
	case "s3":
		s3Store, err := artifactrepo.NewS3Store(artifactrepo.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
			URLExpiry: cfg.Artifact.URLExpiry,
		})
		if err != nil {
			log.Warn("artifact store: using in-memory fallback", "error", err)
			origin = artifactrepo.NewMemoryStore()
			break
		}
		log.Info("artifact store: s3", "bucket", cfg.Artifact.Bucket, "endpoint", cfg.Artifact.Endpoint)
		origin = s3Store
	case "postgres":
		pg, err := artifactrepo.NewPostgresStore(cfg.Artifact.PostgresDSN)
		if err != nil {
			return nil, noop, fmt.Errorf("open artifact postgres store: %w", err)
		}
		log.Info("artifact store: postgres")
		origin, closer = pg, pg.Close
	case "memory", "none", "":
		origin = artifactrepo.NewMemoryStore()
	default:
		return nil, noop, fmt.Errorf("unknown artifact backend %q", cfg.Artifact.Backend)
	}

	cacheCfg := artifactcache.DefaultCacheConfig()
	if exp := cfg.Artifact.URLExpiry / 2; exp > 0 && exp < cacheCfg.URLTTL {
		cacheCfg.URLTTL = exp
	}
	return artifactcache.NewCachedStore(origin, cacheCfg), closer, nil
}
