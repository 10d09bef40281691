package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"obsched/internal/model"
	logx "obsched/pkg/logx"
)

func newMockStore(t *testing.T, driver string) (*sqlStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := FromDB(db, driver, Tables{}, logx.Nop())
	require.NoError(t, err)
	s := st.(*sqlStore)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }
	return s, mock
}

func TestPutSiteMySQL(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, "mysql")
	site := model.Site{ID: 3, Name: "xinglong", Lon: 117.57, Lat: 40.39, Alt: 960}

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO `site` (site_id, sitename, status, site_lon, site_lat, site_alt, timestam) VALUES (?,?,?,?,?,?,?) "+
			"ON DUPLICATE KEY UPDATE sitename = VALUES(sitename)")).
		WithArgs(uint64(3), "xinglong", 0, 117.57, 40.39, 960.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))

	require.NoError(t, s.PutSite(context.Background(), site))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutTargetSQLiteUpsert(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, "sqlite")
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT(targ_id) DO UPDATE SET nside = excluded.nside")).
		WithArgs(uint64(1536), int64(16), "m42", 180.0, 0.0, 0, 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.PutTarget(context.Background(), model.Target{ID: 1536, Nside: 16, Name: "m42", RA: 180, Priority: 5})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatusStatements(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind  Kind
		table string
		key   string
	}{
		{KindSite, "site", "site_id"},
		{KindTelescope, "telescope", "tel_id"},
		{KindTarget, "target", "targ_id"},
		{KindTask, "task", "task_id"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.kind.String(), func(t *testing.T) {
			t.Parallel()
			s, mock := newMockStore(t, "mysql")
			mock.ExpectExec(regexp.QuoteMeta("UPDATE `"+tc.table+"` SET status = ?, timestam = ? WHERE "+tc.key+" = ?")).
				WithArgs(int(model.StatusMasked), sqlmock.AnyArg(), uint64(7)).
				WillReturnResult(sqlmock.NewResult(0, 1))
			require.NoError(t, s.SetStatus(context.Background(), tc.kind, 7, int(model.StatusMasked)))
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecErrorPropagates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, "mysql")
	boom := errors.New("connection refused")
	mock.ExpectExec("UPDATE `target` SET priority").WillReturnError(boom)

	err := s.SetTargetPriority(context.Background(), 9, 1)
	assert.ErrorIs(t, err, boom)
}

func TestLoadSkipsDeleted(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t, "mysql")
	mock.ExpectQuery("SELECT site_id, sitename").WillReturnRows(
		sqlmock.NewRows([]string{"site_id", "sitename", "status", "site_lon", "site_lat", "site_alt"}).
			AddRow(1, "a", 0, 1.0, 2.0, 3.0).
			AddRow(4, "gone", 1, nil, nil, nil))
	mock.ExpectQuery("SELECT tel_id, telescop").WillReturnRows(
		sqlmock.NewRows([]string{"tel_id", "telescop", "site_id", "status", "tel_des"}).
			AddRow(2, "t1", 1, 2, `{"aperture":0.6}`))
	mock.ExpectQuery("SELECT targ_id, nside").WillReturnRows(
		sqlmock.NewRows([]string{"targ_id", "nside", "targname", "ra_targ", "dec_targ", "status", "priority"}))
	mock.ExpectQuery("SELECT task_id, targ_id").WillReturnRows(
		sqlmock.NewRows([]string{"task_id", "targ_id", "nside", "tel_id", "site_id", "status", "obstime", "task_des"}).
			AddRow(11, 5, 16, 2, 1, 1, 1.7e9, nil))

	snap, err := s.Load(context.Background(), model.RoleGlobal)
	require.NoError(t, err)
	require.Len(t, snap.Sites, 1)
	assert.Equal(t, uint64(4), snap.MaxSiteID)
	require.Len(t, snap.Telescopes, 1)
	assert.Equal(t, model.StatusMasked, snap.Telescopes[0].Status)
	assert.JSONEq(t, `{"aperture":0.6}`, string(snap.Telescopes[0].Description))
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, model.TaskFail, snap.Tasks[0].Status)
	assert.Equal(t, uint64(11), snap.MaxTaskID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSchemaPerRole(t *testing.T) {
	t.Parallel()

	tables := Tables{}.withDefaults()
	assert.Len(t, schema(dialectMySQL, tables, model.RoleGlobal), 4)
	site := schema(dialectSQLite, tables, model.RoleSite)
	require.Len(t, site, 3)
	assert.Contains(t, site[0], "CREATE TABLE IF NOT EXISTS `telescope`")
	assert.Empty(t, schema(dialectSQLite, tables, model.RoleUnit))
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "sched.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Migrate(ctx, model.RoleGlobal))
	require.NoError(t, st.PutSite(ctx, model.Site{ID: 1, Name: "s1", Lon: 10}))
	require.NoError(t, st.PutTelescope(ctx, model.Telescope{ID: 2, SiteID: 1, Name: "t1",
		Description: json.RawMessage(`{"fov":1.5}`)}))
	require.NoError(t, st.PutTarget(ctx, model.Target{ID: 99, Nside: 16, Name: "x", RA: 1, Dec: 2}))
	require.NoError(t, st.PutTarget(ctx, model.Target{ID: 99, Nside: 16, Name: "x", RA: 1, Dec: 2, Priority: 3}))
	require.NoError(t, st.PutTask(ctx, model.TaskRecord{ID: 5, TargetID: 99, Nside: 16, TelescopeID: 2, SiteID: 1,
		Status: model.TaskGenerated, ObsTime: 1.5}))
	require.NoError(t, st.SetStatus(ctx, KindSite, 1, int(model.StatusDelete)))

	snap, err := st.Load(ctx, model.RoleGlobal)
	require.NoError(t, err)
	assert.Empty(t, snap.Sites)
	assert.Equal(t, uint64(1), snap.MaxSiteID)
	require.Len(t, snap.Targets, 1)
	assert.Equal(t, 3, snap.Targets[0].Priority)
	require.Len(t, snap.Telescopes, 1)
	assert.JSONEq(t, `{"fov":1.5}`, string(snap.Telescopes[0].Description))
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, model.TaskGenerated, snap.Tasks[0].Status)
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	snap, err := st.Load(context.Background(), model.RoleGlobal)
	require.NoError(t, err)
	assert.Empty(t, snap.Sites)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "mysql"}, logx.Nop())
	assert.Error(t, err, "mysql without name or dsn")

	dsn, err := mysqlDSN(Config{Host: "db.local", User: "sched", Password: "pw", Name: "obs"})
	require.NoError(t, err)
	assert.Contains(t, dsn, "tcp(db.local:3306)/obs")
}
