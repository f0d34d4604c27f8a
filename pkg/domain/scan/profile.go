package scan

import (
	"time"

	"github.com/vulnscanio/engine/pkg/domain/shared"
)

// Profile is a named preset mapping to an ordered module plan.
type Profile struct {
	Name        string
	Description string
	Modules     []string
	Estimated   time.Duration
}

// ProfileCustom is the profile name recorded when the caller supplies an
// explicit module list instead of a preset.
const ProfileCustom = "custom"

// Built-in profile names.
const (
	ProfileQuick    = "quick"
	ProfileStandard = "standard"
	ProfileDeep     = "deep"
)

// Module names known to the engine. The registry decides which of these a
// deployment can actually run.
const (
	ModuleDNSEnumeration      = "dns_enumeration"
	ModuleSSLAnalysis         = "ssl_analysis"
	ModuleTechDetection       = "tech_detection"
	ModulePortScan            = "port_scan"
	ModuleWebCrawl            = "web_crawl"
	ModuleAdminPanelDetection = "admin_panel_detection"
	ModuleRecon               = "recon"
	ModuleWAFDetection        = "waf_detection"
	ModuleVulnCheck           = "vuln_check"
	ModuleSubdomainTakeover   = "subdomain_takeover"
	ModuleCVEMatch            = "cve_match"
	ModuleAPIDiscovery        = "api_discovery"
	ModuleAPISecurity         = "api_security"
)

// builtinProfiles is ordered from cheapest to most thorough; deep is a
// superset of standard, standard a superset of quick.
var builtinProfiles = []Profile{
	{
		Name:        ProfileQuick,
		Description: "Fast passive checks: DNS, TLS and technology fingerprinting",
		Modules: []string{
			ModuleDNSEnumeration,
			ModuleSSLAnalysis,
			ModuleTechDetection,
		},
		Estimated: 2 * time.Minute,
	},
	{
		Name:        ProfileStandard,
		Description: "Default coverage: quick plus ports, crawling and exposure checks",
		Modules: []string{
			ModuleDNSEnumeration,
			ModuleSSLAnalysis,
			ModuleTechDetection,
			ModulePortScan,
			ModuleWebCrawl,
			ModuleAdminPanelDetection,
			ModuleRecon,
		},
		Estimated: 10 * time.Minute,
	},
	{
		Name:        ProfileDeep,
		Description: "Full surface: standard plus vulnerability, takeover and API analysis",
		Modules: []string{
			ModuleDNSEnumeration,
			ModuleSSLAnalysis,
			ModuleTechDetection,
			ModulePortScan,
			ModuleWebCrawl,
			ModuleAdminPanelDetection,
			ModuleRecon,
			ModuleWAFDetection,
			ModuleVulnCheck,
			ModuleSubdomainTakeover,
			ModuleCVEMatch,
			ModuleAPIDiscovery,
			ModuleAPISecurity,
		},
		Estimated: 30 * time.Minute,
	},
}

// AllModules returns every module name any built-in profile references.
func AllModules() []string {
	return append([]string(nil), builtinProfiles[len(builtinProfiles)-1].Modules...)
}

// Profiles holds the active profile catalog: the built-ins, optionally
// overlaid from configuration.
type Profiles struct {
	byName map[string]Profile
	order  []string
}

// DefaultProfiles returns the built-in catalog.
func DefaultProfiles() *Profiles {
	p := &Profiles{byName: make(map[string]Profile, len(builtinProfiles))}
	for _, prof := range builtinProfiles {
		p.byName[prof.Name] = prof
		p.order = append(p.order, prof.Name)
	}
	return p
}

// Override replaces or adds a profile. Used by the configuration loader to
// apply deployment-specific module plans.
func (p *Profiles) Override(prof Profile) error {
	if prof.Name == "" {
		return shared.NewDomainError("VALIDATION", "profile name is required", shared.ErrValidation)
	}
	if prof.Name == ProfileCustom {
		return shared.NewDomainError("VALIDATION", "custom is a reserved profile name", shared.ErrValidation)
	}
	if len(prof.Modules) == 0 {
		return shared.NewDomainError("VALIDATION", "profile must list at least one module", shared.ErrValidation)
	}
	if _, exists := p.byName[prof.Name]; !exists {
		p.order = append(p.order, prof.Name)
	}
	p.byName[prof.Name] = prof
	return nil
}

// Get returns the profile by name.
func (p *Profiles) Get(name string) (Profile, error) {
	prof, ok := p.byName[name]
	if !ok {
		return Profile{}, ErrUnknownProfile
	}
	return prof, nil
}

// List returns all profiles in registration order.
func (p *Profiles) List() []Profile {
	out := make([]Profile, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.byName[name])
	}
	return out
}

// Default returns the profile used when a request names none.
func (p *Profiles) Default() Profile {
	if prof, ok := p.byName[ProfileStandard]; ok {
		return prof
	}
	return p.List()[0]
}
