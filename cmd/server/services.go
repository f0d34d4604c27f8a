package main

import (
	"fmt"
	"time"

	"github.com/vulnscanio/engine/internal/app"
	"github.com/vulnscanio/engine/internal/config"
	"github.com/vulnscanio/engine/internal/infra/redis"
	"github.com/vulnscanio/engine/internal/infra/reports"
	"github.com/vulnscanio/engine/pkg/crypto"
	"github.com/vulnscanio/engine/pkg/domain/scan"
	"github.com/vulnscanio/engine/pkg/jwt"
	"github.com/vulnscanio/engine/pkg/logger"
)

// statsCacheTTL bounds how stale the org scan statistics can get.
const statsCacheTTL = 30 * time.Second

// Services holds all service instances.
type Services struct {
	Scan         *app.ScanService
	Target       *app.TargetService
	Schedule     *app.ScheduleService
	Channel      *app.ChannelService
	Finding      *app.FindingService
	Report       *app.ReportService
	Notification *app.NotificationService
	Discovery    *app.DiscoveryService

	// Profiles is the resolved scan profile catalog, shared by every
	// service that validates profile names.
	Profiles *scan.Profiles

	// TokenValidator verifies bearer tokens minted by the platform's
	// identity service.
	TokenValidator *jwt.Generator
}

// ServiceDeps contains dependencies needed to create services.
type ServiceDeps struct {
	Config        *config.Config
	Log           *logger.Logger
	Repos         *Repositories
	RedisClient   *redis.Client
	EventBus      *redis.EventBus
	JobClient     app.JobEnqueuer
	ArtifactStore *reports.Store
}

// NewServices initializes all application services.
func NewServices(deps *ServiceDeps) (*Services, error) {
	cfg := deps.Config
	log := deps.Log
	repos := deps.Repos

	profiles, err := loadProfiles(cfg, log)
	if err != nil {
		return nil, err
	}

	encryptor, err := buildEncryptor(cfg, log)
	if err != nil {
		return nil, err
	}

	statsCache, err := redis.NewCache[scan.Stats](deps.RedisClient, "scan_stats", statsCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("create stats cache: %w", err)
	}

	s := &Services{
		Profiles: profiles,
		TokenValidator: jwt.NewGenerator(jwt.TokenConfig{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.JWTIssuer,
		}),
	}

	s.Scan = app.NewScanService(
		repos.ScanJob,
		repos.ModuleResult,
		repos.Target,
		profiles,
		deps.JobClient,
		deps.EventBus,
		log,
		app.WithStatsCache(statsCache),
	)
	s.Target = app.NewTargetService(repos.Target, cfg.Scan, log)
	s.Schedule = app.NewScheduleService(repos.Schedule, repos.Target, profiles, log)
	s.Channel = app.NewChannelService(repos.Channel, encryptor, log)
	s.Finding = app.NewFindingService(repos.Finding, log)
	s.Discovery = app.NewDiscoveryService(repos.Target, repos.ScanJob, repos.Finding, cfg.Scan, log)

	// A nil store is fine: report tasks become no-ops and the report
	// location endpoint reports the artifact as unavailable.
	var store app.ArtifactStore
	if deps.ArtifactStore != nil {
		store = deps.ArtifactStore
	}
	s.Report = app.NewReportService(repos.ScanJob, repos.Finding, store, log)

	s.Notification = app.NewNotificationService(
		repos.Channel,
		repos.ScanJob,
		repos.Finding,
		encryptor,
		cfg.Notify,
		log,
		app.WithDashboardURL(cfg.App.BaseURL),
	)

	return s, nil
}

// loadProfiles resolves the scan profile catalog, overlaying the built-in
// profiles from a YAML file when one is configured.
func loadProfiles(cfg *config.Config, log *logger.Logger) (*scan.Profiles, error) {
	if cfg.Scan.ProfilesFile == "" {
		return scan.DefaultProfiles(), nil
	}

	profiles, err := config.LoadProfiles(cfg.Scan.ProfilesFile)
	if err != nil {
		return nil, fmt.Errorf("load profiles from %s: %w", cfg.Scan.ProfilesFile, err)
	}
	log.Info("scan profiles loaded", "file", cfg.Scan.ProfilesFile)
	return profiles, nil
}

// buildEncryptor builds the channel secret encryptor from the configured
// key. Without a key, secrets are stored as-is; acceptable for local
// development only.
func buildEncryptor(cfg *config.Config, log *logger.Logger) (crypto.Encryptor, error) {
	if cfg.Auth.EncryptionKey == "" {
		log.Warn("no encryption key configured, channel secrets stored in plaintext")
		return nil, nil
	}

	cipher, err := crypto.NewCipherFromHex(cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}
	return cipher, nil
}
