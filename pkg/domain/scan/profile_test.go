package scan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vulnscanio/engine/pkg/domain/scan"
)

func TestDefaultProfiles(t *testing.T) {
	profiles := scan.DefaultProfiles()

	t.Run("built-in catalog", func(t *testing.T) {
		list := profiles.List()
		require.Len(t, list, 3)
		assert.Equal(t, scan.ProfileQuick, list[0].Name)
		assert.Equal(t, scan.ProfileStandard, list[1].Name)
		assert.Equal(t, scan.ProfileDeep, list[2].Name)
	})

	t.Run("module counts", func(t *testing.T) {
		quick, err := profiles.Get(scan.ProfileQuick)
		require.NoError(t, err)
		assert.Len(t, quick.Modules, 3)

		standard, err := profiles.Get(scan.ProfileStandard)
		require.NoError(t, err)
		assert.Len(t, standard.Modules, 7)

		deep, err := profiles.Get(scan.ProfileDeep)
		require.NoError(t, err)
		assert.Len(t, deep.Modules, 13)
	})

	t.Run("deep is a superset of standard is a superset of quick", func(t *testing.T) {
		quick, _ := profiles.Get(scan.ProfileQuick)
		standard, _ := profiles.Get(scan.ProfileStandard)
		deep, _ := profiles.Get(scan.ProfileDeep)

		inDeep := make(map[string]bool, len(deep.Modules))
		for _, m := range deep.Modules {
			inDeep[m] = true
		}
		inStandard := make(map[string]bool, len(standard.Modules))
		for _, m := range standard.Modules {
			inStandard[m] = true
			assert.True(t, inDeep[m], "deep missing %s", m)
		}
		for _, m := range quick.Modules {
			assert.True(t, inStandard[m], "standard missing %s", m)
		}
	})

	t.Run("unknown profile", func(t *testing.T) {
		_, err := profiles.Get("nonexistent")
		assert.ErrorIs(t, err, scan.ErrUnknownProfile)
	})

	t.Run("default is standard", func(t *testing.T) {
		assert.Equal(t, scan.ProfileStandard, profiles.Default().Name)
	})
}

func TestProfiles_Override(t *testing.T) {
	t.Run("replaces existing profile", func(t *testing.T) {
		profiles := scan.DefaultProfiles()
		err := profiles.Override(scan.Profile{
			Name:      scan.ProfileQuick,
			Modules:   []string{scan.ModuleDNSEnumeration},
			Estimated: time.Minute,
		})
		require.NoError(t, err)

		quick, err := profiles.Get(scan.ProfileQuick)
		require.NoError(t, err)
		assert.Len(t, quick.Modules, 1)
		assert.Len(t, profiles.List(), 3)
	})

	t.Run("adds new profile", func(t *testing.T) {
		profiles := scan.DefaultProfiles()
		err := profiles.Override(scan.Profile{
			Name:    "api-only",
			Modules: []string{scan.ModuleAPIDiscovery, scan.ModuleAPISecurity},
		})
		require.NoError(t, err)
		assert.Len(t, profiles.List(), 4)
	})

	t.Run("rejects empty module list", func(t *testing.T) {
		profiles := scan.DefaultProfiles()
		err := profiles.Override(scan.Profile{Name: "empty"})
		assert.Error(t, err)
	})

	t.Run("rejects reserved custom name", func(t *testing.T) {
		profiles := scan.DefaultProfiles()
		err := profiles.Override(scan.Profile{
			Name:    scan.ProfileCustom,
			Modules: []string{scan.ModuleRecon},
		})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "reserved")
	})
}

func TestAllModules(t *testing.T) {
	all := scan.AllModules()
	assert.Len(t, all, 13)
	assert.Contains(t, all, scan.ModuleDNSEnumeration)
	assert.Contains(t, all, scan.ModuleAPISecurity)
}
