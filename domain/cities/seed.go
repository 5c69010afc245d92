package cities

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/internal/database"
	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
)

// SeedCity is one row of a city seed file.
type SeedCity struct {
	Name     string   `json:"name"`
	State    string   `json:"state"`
	Vendor   string   `json:"vendor"`
	Slug     string   `json:"slug"`
	County   string   `json:"county,omitempty"`
	Zipcodes []string `json:"zipcodes,omitempty"`
}

// Validate checks the fields required before a seed row can become a city.
func (s SeedCity) Validate() error {
	switch {
	case strings.TrimSpace(s.Name) == "":
		return apperror.ErrValidation.WithMessage("seed city missing name")
	case len(strings.TrimSpace(s.State)) != 2:
		return apperror.ErrValidation.WithMessagef("seed city %q: state must be a two-letter code", s.Name)
	case strings.TrimSpace(s.Vendor) == "":
		return apperror.ErrValidation.WithMessagef("seed city %q: missing vendor", s.Name)
	case strings.TrimSpace(s.Slug) == "":
		return apperror.ErrValidation.WithMessagef("seed city %q: missing vendor slug", s.Name)
	}
	return nil
}

// LoadSeedFile parses a city seed file; the format is chosen by extension
// (.json or .csv).
func LoadSeedFile(path string) ([]SeedCity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.ErrValidation.WithMessagef("cannot open seed file %s", path).WithInternal(err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseSeedJSON(f)
	case ".csv":
		return parseSeedCSV(f)
	default:
		return nil, apperror.ErrValidation.WithMessagef("unsupported seed file format %q", filepath.Ext(path))
	}
}

func parseSeedJSON(r io.Reader) ([]SeedCity, error) {
	var seeds []SeedCity
	if err := json.NewDecoder(r).Decode(&seeds); err != nil {
		return nil, apperror.ErrValidation.WithMessage("seed file is not a JSON array of cities").WithInternal(err)
	}
	return seeds, nil
}

// parseSeedCSV reads a header-led CSV. Recognised columns: name, state,
// vendor, slug, county, zipcodes (semicolon-separated). Extra columns are
// ignored.
func parseSeedCSV(r io.Reader) ([]SeedCity, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, apperror.ErrValidation.WithMessage("malformed seed CSV").WithInternal(err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	col := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	seeds := make([]SeedCity, 0, len(records)-1)
	for _, row := range records[1:] {
		seed := SeedCity{
			Name:   field(row, "name"),
			State:  field(row, "state"),
			Vendor: field(row, "vendor"),
			Slug:   field(row, "slug"),
			County: field(row, "county"),
		}
		for _, z := range strings.Split(field(row, "zipcodes"), ";") {
			if z = strings.TrimSpace(z); z != "" {
				seed.Zipcodes = append(seed.Zipcodes, z)
			}
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

// ImportResult reports what an import run did.
type ImportResult struct {
	Imported int
	Skipped  int
}

// Importer loads seed files into the cities table.
type Importer struct {
	db   *bun.DB
	repo *Repository
	log  *slog.Logger
}

// NewImporter creates a new seed importer
func NewImporter(db *bun.DB, repo *Repository, log *slog.Logger) *Importer {
	return &Importer{
		db:   db,
		repo: repo,
		log:  log.With(logger.Scope("cities.import")),
	}
}

// Import upserts seed rows. knownVendor gates the vendor column; rows that
// fail validation or name an unknown vendor are skipped with a warning, never
// fatal. Each city and its zipcodes land in one transaction.
func (i *Importer) Import(ctx context.Context, seeds []SeedCity, knownVendor func(string) bool) (ImportResult, error) {
	var result ImportResult

	for _, seed := range seeds {
		if err := seed.Validate(); err != nil {
			i.log.Warn("skipping seed row", slog.String("reason", err.Error()))
			result.Skipped++
			continue
		}
		if knownVendor != nil && !knownVendor(seed.Vendor) {
			i.log.Warn("skipping seed row",
				slog.String("city", seed.Name),
				slog.String("reason", "unknown vendor"),
				slog.String("vendor", seed.Vendor))
			result.Skipped++
			continue
		}

		city := seedToCity(seed)
		err := database.RunInTx(ctx, i.db, func(ctx context.Context, tx bun.Tx) error {
			repo := NewRepository(tx, i.log)
			if err := repo.Upsert(ctx, city); err != nil {
				return err
			}
			for n, zip := range seed.Zipcodes {
				z := &Zipcode{Banana: city.Banana, Zipcode: zip, IsPrimary: n == 0}
				if err := repo.AddZipcode(ctx, z); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return result, err
		}

		result.Imported++
		i.log.Info("imported city",
			slog.String("banana", city.Banana),
			slog.String("vendor", city.Vendor),
			slog.Int("zipcodes", len(seed.Zipcodes)))
	}

	return result, nil
}

func seedToCity(seed SeedCity) *City {
	state := strings.ToUpper(strings.TrimSpace(seed.State))
	city := &City{
		Banana: Banana(seed.Name, state),
		Name:   strings.TrimSpace(seed.Name),
		State:  state,
		Vendor: strings.TrimSpace(seed.Vendor),
		Slug:   strings.TrimSpace(seed.Slug),
		Status: StatusActive,
	}
	if county := strings.TrimSpace(seed.County); county != "" {
		city.County = &county
	}
	return city
}
