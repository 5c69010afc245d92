package cities

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/engagic/engagic/pkg/apperror"
	"github.com/engagic/engagic/pkg/logger"
	"github.com/engagic/engagic/pkg/pgutils"
)

// Repository handles database operations for cities and zipcodes
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new city repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("cities.repo")),
	}
}

// Add inserts a new city. Duplicate bananas or (name, state) pairs are a
// conflict, not an upsert: out-of-band tooling must use Upsert to amend.
func (r *Repository) Add(ctx context.Context, city *City) error {
	_, err := r.db.NewInsert().
		Model(city).
		Exec(ctx)

	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return apperror.ErrConflict.WithMessagef("city %s already exists", city.Banana).WithInternal(err)
		}
		r.log.Error("failed to add city", logger.Error(err), slog.String("banana", city.Banana))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// Upsert inserts or refreshes a city keyed by banana. Status is preserved on
// existing rows so a re-import does not reactivate a deliberately disabled city.
func (r *Repository) Upsert(ctx context.Context, city *City) error {
	_, err := r.db.NewInsert().
		Model(city).
		On("CONFLICT (banana) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("state = EXCLUDED.state").
		Set("vendor = EXCLUDED.vendor").
		Set("slug = EXCLUDED.slug").
		Set("county = EXCLUDED.county").
		Set("updated_at = now()").
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to upsert city", logger.Error(err), slog.String("banana", city.Banana))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}

// GetParams selects a city by exactly one strategy; Get dispatches by the
// most specific parameter present.
type GetParams struct {
	Banana  string
	Vendor  string // with Slug
	Slug    string
	Zipcode string
	Name    string // with State
	State   string
}

// Get returns a single city by banana, (vendor, slug), zipcode, or
// (name, state), in that order of specificity. Zipcode lookups prefer the
// city holding the zip as primary. Returns nil when nothing matches.
func (r *Repository) Get(ctx context.Context, params GetParams) (*City, error) {
	switch {
	case params.Banana != "":
		return r.getWhere(ctx, "c.banana = ?", params.Banana)
	case params.Vendor != "" && params.Slug != "":
		return r.getWhere(ctx, "c.vendor = ? AND c.slug = ?", params.Vendor, params.Slug)
	case params.Zipcode != "":
		return r.getByZipcode(ctx, params.Zipcode)
	case params.Name != "" && params.State != "":
		return r.getWhere(ctx, "c.banana = ?", Banana(params.Name, params.State))
	default:
		return nil, apperror.ErrBadRequest.WithMessage("get city requires banana, vendor+slug, zipcode, or name+state")
	}
}

func (r *Repository) getWhere(ctx context.Context, where string, args ...any) (*City, error) {
	var city City

	err := r.db.NewSelect().
		Model(&city).
		Relation("Zipcodes").
		Where(where, args...).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get city", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &city, nil
}

func (r *Repository) getByZipcode(ctx context.Context, zipcode string) (*City, error) {
	var city City

	err := r.db.NewSelect().
		Model(&city).
		Relation("Zipcodes").
		Join("INNER JOIN zipcodes AS zc ON zc.banana = c.banana").
		Where("zc.zipcode = ?", zipcode).
		OrderExpr("zc.is_primary DESC, c.banana ASC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.log.Error("failed to get city by zipcode", logger.Error(err), slog.String("zipcode", zipcode))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return &city, nil
}

// ListByZipcode returns every city covering a zipcode, primary holder first.
func (r *Repository) ListByZipcode(ctx context.Context, zipcode string) ([]City, error) {
	var cities []City

	err := r.db.NewSelect().
		Model(&cities).
		Join("INNER JOIN zipcodes AS zc ON zc.banana = c.banana").
		Where("zc.zipcode = ?", zipcode).
		OrderExpr("zc.is_primary DESC, c.banana ASC").
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to list cities by zipcode", logger.Error(err), slog.String("zipcode", zipcode))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return cities, nil
}

// ListParams defines filters for listing cities
type ListParams struct {
	Vendor string
	State  string
	Status string
	Limit  int
}

// List returns cities matching the filters, ordered by banana.
func (r *Repository) List(ctx context.Context, params ListParams) ([]City, error) {
	var cities []City

	query := r.db.NewSelect().
		Model(&cities).
		Order("c.banana ASC")

	if params.Vendor != "" {
		query = query.Where("c.vendor = ?", params.Vendor)
	}
	if params.State != "" {
		query = query.Where("c.state = ?", params.State)
	}
	if params.Status != "" {
		query = query.Where("c.status = ?", params.Status)
	}
	if params.Limit > 0 {
		query = query.Limit(params.Limit)
	}

	err := query.Scan(ctx)
	if err != nil {
		r.log.Error("failed to list cities", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return cities, nil
}

// ListActive returns every active city; the conductor seeds sync jobs from it.
func (r *Repository) ListActive(ctx context.Context) ([]City, error) {
	return r.List(ctx, ListParams{Status: StatusActive})
}

// ListStale returns active cities whose last successful sync completed before
// the cutoff, including cities that have never synced at all.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time) ([]City, error) {
	var cities []City

	err := r.db.NewSelect().
		Model(&cities).
		Where("c.status = ?", StatusActive).
		Where(`NOT EXISTS (
			SELECT 1 FROM sync_log sl
			WHERE sl.banana = c.banana
			  AND sl.completed_at IS NOT NULL
			  AND sl.error IS NULL
			  AND sl.completed_at >= ?
		)`, cutoff).
		Order("c.banana ASC").
		Scan(ctx)

	if err != nil {
		r.log.Error("failed to list stale cities", logger.Error(err))
		return nil, apperror.ErrDatabase.WithInternal(err)
	}

	return cities, nil
}

// UpdateStatus flips a city between active and inactive.
func (r *Repository) UpdateStatus(ctx context.Context, banana, status string) error {
	res, err := r.db.NewUpdate().
		Model((*City)(nil)).
		Set("status = ?", status).
		Set("updated_at = now()").
		Where("banana = ?", banana).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to update city status", logger.Error(err), slog.String("banana", banana))
		return apperror.ErrDatabase.WithInternal(err)
	}

	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("city %s not found", banana)
	}

	return nil
}

// SetVendorToken stores the encrypted API credential for a city, or clears it
// when token is nil.
func (r *Repository) SetVendorToken(ctx context.Context, banana string, token *string) error {
	res, err := r.db.NewUpdate().
		Model((*City)(nil)).
		Set("vendor_token = ?", token).
		Set("updated_at = now()").
		Where("banana = ?", banana).
		Exec(ctx)

	if err != nil {
		r.log.Error("failed to set vendor token", logger.Error(err), slog.String("banana", banana))
		return apperror.ErrDatabase.WithInternal(err)
	}

	if rows, _ := res.RowsAffected(); rows == 0 {
		return apperror.ErrNotFound.WithMessagef("city %s not found", banana)
	}

	return nil
}

// AddZipcode attaches a zipcode to a city. Marking a zip primary demotes any
// existing primary first so the one-primary-per-city constraint holds.
func (r *Repository) AddZipcode(ctx context.Context, zip *Zipcode) error {
	if zip.IsPrimary {
		_, err := r.db.NewUpdate().
			Model((*Zipcode)(nil)).
			Set("is_primary = false").
			Where("banana = ? AND is_primary", zip.Banana).
			Exec(ctx)
		if err != nil {
			r.log.Error("failed to demote primary zipcode", logger.Error(err), slog.String("banana", zip.Banana))
			return apperror.ErrDatabase.WithInternal(err)
		}
	}

	_, err := r.db.NewInsert().
		Model(zip).
		On("CONFLICT (banana, zipcode) DO UPDATE").
		Set("is_primary = EXCLUDED.is_primary").
		Exec(ctx)

	if err != nil {
		if pgutils.IsForeignKeyViolation(err) {
			return apperror.ErrNotFound.WithMessagef("city %s not found", zip.Banana).WithInternal(err)
		}
		r.log.Error("failed to add zipcode", logger.Error(err), slog.String("banana", zip.Banana))
		return apperror.ErrDatabase.WithInternal(err)
	}

	return nil
}
