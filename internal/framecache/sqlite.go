package framecache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pointframe/internal/monitoring"
	"github.com/banshee-data/pointframe/internal/pointcloud"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists frames in a single SQLite table. Float buffers are
// stored as little-endian float32 BLOBs.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the cache database at path and applies any
// outstanding migrations.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame cache %s: %w", path, err)
	}
	// One writer keeps SQLITE_BUSY out of the request path.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	monitoring.Logf("[FrameCache] SQLite cache ready at %s", path)
	return &SQLiteStore{db: db, path: path}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close db as well.
	m.Log = migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion() (uint, bool, error) {
	var version uint
	var dirty bool
	err := s.db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return version, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// DB exposes the underlying handle for admin tooling.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Path returns the database path the store was opened with.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Put(ctx context.Context, f *CachedFrame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	storedAt := f.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (
			frame_id, positions, colors, kept_count, source_points,
			downsample_mode, downsample_n,
			intensity_count, intensity_min, intensity_max, intensity_mean, intensity_saturated,
			stored_at_unix_nano
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(frame_id) DO UPDATE SET
			positions = excluded.positions,
			colors = excluded.colors,
			kept_count = excluded.kept_count,
			source_points = excluded.source_points,
			downsample_mode = excluded.downsample_mode,
			downsample_n = excluded.downsample_n,
			intensity_count = excluded.intensity_count,
			intensity_min = excluded.intensity_min,
			intensity_max = excluded.intensity_max,
			intensity_mean = excluded.intensity_mean,
			intensity_saturated = excluded.intensity_saturated,
			stored_at_unix_nano = excluded.stored_at_unix_nano`,
		string(f.FrameID),
		pointcloud.Float32sToBytes(f.Positions),
		pointcloud.Float32sToBytes(f.Colors),
		f.KeptCount(),
		f.SourcePoints,
		string(f.Config.Mode),
		f.Config.N,
		f.Intensity.Count,
		f.Intensity.Min,
		f.Intensity.Max,
		f.Intensity.Mean,
		f.Intensity.Saturated,
		storedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store frame %s: %w", f.FrameID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id pointcloud.FrameID) (*CachedFrame, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	var (
		positions, colors []byte
		keptCount         int
		mode              string
		storedAt          int64
		f                 = CachedFrame{FrameID: id}
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT positions, colors, kept_count, source_points,
			downsample_mode, downsample_n,
			intensity_count, intensity_min, intensity_max, intensity_mean, intensity_saturated,
			stored_at_unix_nano
		FROM frames WHERE frame_id = ?`, string(id)).Scan(
		&positions, &colors, &keptCount, &f.SourcePoints,
		&mode, &f.Config.N,
		&f.Intensity.Count, &f.Intensity.Min, &f.Intensity.Max, &f.Intensity.Mean, &f.Intensity.Saturated,
		&storedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load frame %s: %w", id, err)
	}

	if f.Positions, err = pointcloud.Float32sFromBytes(positions); err != nil {
		return nil, fmt.Errorf("frame %s: positions: %w", id, err)
	}
	if f.Colors, err = pointcloud.Float32sFromBytes(colors); err != nil {
		return nil, fmt.Errorf("frame %s: colors: %w", id, err)
	}
	f.Config.Mode = pointcloud.DownsampleMode(mode)
	f.StoredAt = time.Unix(0, storedAt)

	if f.KeptCount() != keptCount {
		return nil, fmt.Errorf("frame %s: stored kept_count %d does not match %d decoded points",
			id, keptCount, f.KeptCount())
	}
	return &f, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id pointcloud.FrameID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM frames WHERE frame_id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete frame %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM frames`)
	if err != nil {
		return fmt.Errorf("failed to clear frame cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		monitoring.Logf("[FrameCache] Cleared %d frame(s)", n)
	}
	return nil
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM frames`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
