package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"obsched/internal/model"
	logx "obsched/pkg/logx"
)

type sqlStore struct {
	driver string
	dsn    string
	d      dialect
	tables Tables
	stmts  map[Op]string
	log    logx.Logger

	shared *sql.DB
	now    func() time.Time
}

func newSQLStore(driver, dsn string, d dialect, tables Tables, log logx.Logger) *sqlStore {
	tables = tables.withDefaults()
	return &sqlStore{
		driver: driver,
		dsn:    dsn,
		d:      d,
		tables: tables,
		stmts:  buildStatements(d, tables),
		log:    log,
		now:    time.Now,
	}
}

// conn returns a handle for one call and the func that releases it.
func (s *sqlStore) conn(ctx context.Context) (*sql.DB, func(), error) {
	if s.shared != nil {
		return s.shared, func() {}, nil
	}
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return nil, nil, err
	}
	if s.d == dialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}

func (s *sqlStore) exec(ctx context.Context, op Op, args ...any) error {
	q, ok := s.stmts[op]
	if !ok {
		return fmt.Errorf("storage: no statement for op %d", op)
	}
	db, release, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer release()
	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		s.log.Debug("statement failed", logx.Int("op", int(op)), logx.Err(err))
		return err
	}
	return nil
}

func (s *sqlStore) Close() error { return nil }

func (s *sqlStore) PutSite(ctx context.Context, v model.Site) error {
	return s.exec(ctx, OpPutSite, v.ID, v.Name, int(v.Status), v.Lon, v.Lat, v.Alt, s.now().UTC())
}

func (s *sqlStore) PutTelescope(ctx context.Context, v model.Telescope) error {
	return s.exec(ctx, OpPutTelescope, v.ID, v.Name, v.SiteID, int(v.Status), rawOrNull(v.Description), s.now().UTC())
}

func (s *sqlStore) PutTarget(ctx context.Context, v model.Target) error {
	return s.exec(ctx, OpPutTarget, v.ID, v.Nside, nullStr(v.Name), v.RA, v.Dec, int(v.Status), v.Priority, s.now().UTC())
}

func (s *sqlStore) PutTask(ctx context.Context, v model.TaskRecord) error {
	return s.exec(ctx, OpPutTask, v.ID, v.TargetID, v.Nside, v.TelescopeID, v.SiteID, int(v.Status), v.ObsTime,
		s.now().UTC(), rawOrNull(v.Description))
}

func (s *sqlStore) SetStatus(ctx context.Context, kind Kind, id uint64, status int) error {
	var op Op
	switch kind {
	case KindSite:
		op = OpSiteStatus
	case KindTelescope:
		op = OpTelescopeStatus
	case KindTarget:
		op = OpTargetStatus
	case KindTask:
		op = OpTaskStatus
	default:
		return fmt.Errorf("storage: unknown kind %d", kind)
	}
	return s.exec(ctx, op, status, s.now().UTC(), id)
}

func (s *sqlStore) SetTargetPriority(ctx context.Context, id uint64, priority int) error {
	return s.exec(ctx, OpTargetPriority, priority, s.now().UTC(), id)
}

func (s *sqlStore) Migrate(ctx context.Context, role model.Role) error {
	db, release, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer release()
	for _, ddl := range schema(s.d, s.tables, role) {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Load(ctx context.Context, role model.Role) (Snapshot, error) {
	var snap Snapshot
	if role != model.RoleGlobal && role != model.RoleSite {
		return snap, nil
	}
	db, release, err := s.conn(ctx)
	if err != nil {
		return snap, err
	}
	defer release()

	if role == model.RoleGlobal {
		if snap.Sites, snap.MaxSiteID, err = s.loadSites(ctx, db); err != nil {
			return snap, err
		}
	}
	if snap.Telescopes, snap.MaxTelescopeID, err = s.loadTelescopes(ctx, db); err != nil {
		return snap, err
	}
	if snap.Targets, err = s.loadTargets(ctx, db); err != nil {
		return snap, err
	}
	if snap.Tasks, snap.MaxTaskID, err = s.loadTasks(ctx, db); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *sqlStore) loadSites(ctx context.Context, db *sql.DB) ([]model.Site, uint64, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT site_id, sitename, status, site_lon, site_lat, site_alt FROM %s ORDER BY site_id", quote(s.tables.Site)))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []model.Site
		maxID uint64
	)
	for rows.Next() {
		var (
			v             model.Site
			st            int
			lon, lat, alt sql.NullFloat64
		)
		if err := rows.Scan(&v.ID, &v.Name, &st, &lon, &lat, &alt); err != nil {
			return nil, 0, err
		}
		maxID = maxU64(maxID, v.ID)
		if model.Status(st) == model.StatusDelete {
			continue
		}
		v.Status, v.Lon, v.Lat, v.Alt = model.Status(st), lon.Float64, lat.Float64, alt.Float64
		out = append(out, v)
	}
	return out, maxID, rows.Err()
}

func (s *sqlStore) loadTelescopes(ctx context.Context, db *sql.DB) ([]model.Telescope, uint64, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT tel_id, telescop, site_id, status, tel_des FROM %s ORDER BY tel_id", quote(s.tables.Telescope)))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []model.Telescope
		maxID uint64
	)
	for rows.Next() {
		var (
			v   model.Telescope
			st  int
			des sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.Name, &v.SiteID, &st, &des); err != nil {
			return nil, 0, err
		}
		maxID = maxU64(maxID, v.ID)
		if model.Status(st) == model.StatusDelete {
			continue
		}
		v.Status = model.Status(st)
		v.Description = rawFrom(des)
		out = append(out, v)
	}
	return out, maxID, rows.Err()
}

func (s *sqlStore) loadTargets(ctx context.Context, db *sql.DB) ([]model.Target, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT targ_id, nside, targname, ra_targ, dec_targ, status, priority FROM %s ORDER BY targ_id", quote(s.tables.Target)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Target
	for rows.Next() {
		var (
			v    model.Target
			name sql.NullString
			st   int
		)
		if err := rows.Scan(&v.ID, &v.Nside, &name, &v.RA, &v.Dec, &st, &v.Priority); err != nil {
			return nil, err
		}
		if model.Status(st) == model.StatusDelete {
			continue
		}
		v.Name, v.Status = name.String, model.Status(st)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqlStore) loadTasks(ctx context.Context, db *sql.DB) ([]model.TaskRecord, uint64, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(
		"SELECT task_id, targ_id, nside, tel_id, site_id, status, obstime, task_des FROM %s ORDER BY task_id", quote(s.tables.Task)))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		out   []model.TaskRecord
		maxID uint64
	)
	for rows.Next() {
		var (
			v       model.TaskRecord
			st      int
			obstime sql.NullFloat64
			des     sql.NullString
		)
		if err := rows.Scan(&v.ID, &v.TargetID, &v.Nside, &v.TelescopeID, &v.SiteID, &st, &obstime, &des); err != nil {
			return nil, 0, err
		}
		maxID = maxU64(maxID, v.ID)
		v.Status, v.ObsTime, v.Description = model.TaskStatus(st), obstime.Float64, rawFrom(des)
		out = append(out, v)
	}
	return out, maxID, rows.Err()
}

func maxU64(a, b uint64) uint64 {
	if b > a {
		return b
	}
	return a
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func rawOrNull(v json.RawMessage) any {
	if len(v) == 0 {
		return nil
	}
	return string(v)
}

func rawFrom(v sql.NullString) json.RawMessage {
	if !v.Valid || v.String == "" {
		return nil
	}
	return json.RawMessage(v.String)
}
