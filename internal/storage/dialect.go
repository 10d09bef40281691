package storage

import (
	"fmt"
	"strings"

	"obsched/internal/model"
)

type dialect int

const (
	dialectMySQL dialect = iota + 1
	dialectSQLite
)

// Op identifies one parameterized statement.
type Op int

const (
	OpPutSite Op = iota + 1
	OpPutTelescope
	OpPutTarget
	OpPutTask
	OpSiteStatus
	OpTelescopeStatus
	OpTargetStatus
	OpTaskStatus
	OpTargetPriority
)

func quote(name string) string { return "`" + strings.ReplaceAll(name, "`", "``") + "`" }

// upsert renders an insert that overwrites every non-key column on conflict.
func (d dialect) upsert(table, key string, cols []string) string {
	all := append([]string{key}, cols...)
	marks := strings.TrimSuffix(strings.Repeat("?,", len(all)), ",")
	head := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(table), strings.Join(all, ", "), marks)

	sets := make([]string, len(cols))
	for i, c := range cols {
		if d == dialectMySQL {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		} else {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
	}
	if d == dialectMySQL {
		return head + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return head + fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET ", key) + strings.Join(sets, ", ")
}

func buildStatements(d dialect, t Tables) map[Op]string {
	update := func(table, col, key string) string {
		return fmt.Sprintf("UPDATE %s SET %s = ?, timestam = ? WHERE %s = ?", quote(table), col, key)
	}
	return map[Op]string{
		OpPutSite: d.upsert(t.Site, "site_id",
			[]string{"sitename", "status", "site_lon", "site_lat", "site_alt", "timestam"}),
		OpPutTelescope: d.upsert(t.Telescope, "tel_id",
			[]string{"telescop", "site_id", "status", "tel_des", "timestam"}),
		OpPutTarget: d.upsert(t.Target, "targ_id",
			[]string{"nside", "targname", "ra_targ", "dec_targ", "status", "priority", "timestam"}),
		OpPutTask: d.upsert(t.Task, "task_id",
			[]string{"targ_id", "nside", "tel_id", "site_id", "status", "obstime", "timestam", "task_des"}),
		OpSiteStatus:      update(t.Site, "status", "site_id"),
		OpTelescopeStatus: update(t.Telescope, "status", "tel_id"),
		OpTargetStatus:    update(t.Target, "status", "targ_id"),
		OpTaskStatus:      update(t.Task, "status", "task_id"),
		OpTargetPriority:  update(t.Target, "priority", "targ_id"),
	}
}

// schema returns the DDL for the tables role owns. The global tier keeps all
// four tables; a site keeps everything except the site table.
func schema(d dialect, t Tables, role model.Role) []string {
	u64, txt, name, real, ts := "BIGINT UNSIGNED", "TEXT", "VARCHAR(128)", "DOUBLE", "DATETIME(6)"
	if d == dialectSQLite {
		u64, txt, name, real, ts = "INTEGER", "TEXT", "TEXT", "REAL", "TIMESTAMP"
	}

	site := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	site_id %s NOT NULL PRIMARY KEY,
	sitename %s NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	site_lon %s,
	site_lat %s,
	site_alt %s,
	timestam %s
)`, quote(t.Site), u64, name, real, real, real, ts)

	telescope := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	tel_id %s NOT NULL PRIMARY KEY,
	telescop %s NOT NULL,
	site_id %s NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	tel_des %s,
	timestam %s
)`, quote(t.Telescope), u64, name, u64, txt, ts)

	target := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	targ_id %s NOT NULL PRIMARY KEY,
	nside %s NOT NULL,
	targname %s,
	ra_targ %s NOT NULL,
	dec_targ %s NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	priority INTEGER NOT NULL DEFAULT 0,
	timestam %s
)`, quote(t.Target), u64, u64, name, real, real, ts)

	task := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	task_id %s NOT NULL PRIMARY KEY,
	targ_id %s NOT NULL,
	nside %s NOT NULL,
	tel_id %s NOT NULL,
	site_id %s NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	obstime %s,
	timestam %s,
	task_des %s
)`, quote(t.Task), u64, u64, u64, u64, u64, real, ts, txt)

	switch role {
	case model.RoleGlobal:
		return []string{site, telescope, target, task}
	case model.RoleSite:
		return []string{telescope, target, task}
	default:
		return nil
	}
}
