package main

import (
	"github.com/vulnscanio/engine/internal/infra/postgres"
)

// Repositories holds all repository instances.
type Repositories struct {
	ScanJob      *postgres.ScanJobRepository
	ModuleResult *postgres.ModuleResultRepository
	Target       *postgres.TargetRepository
	Schedule     *postgres.ScheduleRepository
	Channel      *postgres.ChannelRepository
	Finding      *postgres.FindingRepository
}

// NewRepositories initializes all repositories against one connection pool.
func NewRepositories(db *postgres.DB) *Repositories {
	return &Repositories{
		ScanJob:      postgres.NewScanJobRepository(db),
		ModuleResult: postgres.NewModuleResultRepository(db),
		Target:       postgres.NewTargetRepository(db),
		Schedule:     postgres.NewScheduleRepository(db),
		Channel:      postgres.NewChannelRepository(db),
		Finding:      postgres.NewFindingRepository(db),
	}
}
