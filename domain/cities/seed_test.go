package cities

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSeedFileJSON(t *testing.T) {
	seeds, err := LoadSeedFile(filepath.Join("testdata", "seed.json"))
	require.NoError(t, err)
	require.Len(t, seeds, 3)

	assert.Equal(t, "Palo Alto", seeds[0].Name)
	assert.Equal(t, "CA", seeds[0].State)
	assert.Equal(t, "primegov", seeds[0].Vendor)
	assert.Equal(t, "cityofpaloalto", seeds[0].Slug)
	assert.Equal(t, "Santa Clara", seeds[0].County)
	assert.Equal(t, []string{"94301", "94303", "94304"}, seeds[0].Zipcodes)

	assert.Empty(t, seeds[2].Zipcodes)
}

func TestLoadSeedFileCSV(t *testing.T) {
	seeds, err := LoadSeedFile(filepath.Join("testdata", "seed.csv"))
	require.NoError(t, err)
	require.Len(t, seeds, 3)

	assert.Equal(t, "Palo Alto", seeds[0].Name)
	assert.Equal(t, []string{"94301", "94303"}, seeds[0].Zipcodes)

	assert.Equal(t, "Memphis", seeds[1].Name)
	assert.Equal(t, "granicus", seeds[1].Vendor)

	// Trailing empty columns parse as absent, not empty strings.
	assert.Equal(t, "Burlingame", seeds[2].Name)
	assert.Equal(t, "", seeds[2].County)
	assert.Empty(t, seeds[2].Zipcodes)
}

func TestLoadSeedFileErrors(t *testing.T) {
	_, err := LoadSeedFile(filepath.Join("testdata", "missing.json"))
	assert.Error(t, err)

	_, err = LoadSeedFile(filepath.Join("testdata", "seed.txt"))
	assert.Error(t, err)
}

func TestSeedToCity(t *testing.T) {
	city := seedToCity(SeedCity{
		Name:   " Palo Alto ",
		State:  "ca",
		Vendor: "primegov",
		Slug:   "cityofpaloalto",
		County: "Santa Clara",
	})

	assert.Equal(t, "paloaltoCA", city.Banana)
	assert.Equal(t, "Palo Alto", city.Name)
	assert.Equal(t, "CA", city.State)
	assert.Equal(t, StatusActive, city.Status)
	require.NotNil(t, city.County)
	assert.Equal(t, "Santa Clara", *city.County)

	noCounty := seedToCity(SeedCity{Name: "Memphis", State: "TN", Vendor: "granicus", Slug: "memphistn"})
	assert.Nil(t, noCounty.County)
}
