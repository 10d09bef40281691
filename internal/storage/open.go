package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"obsched/internal/model"
	logx "obsched/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "none":
		return Nop(), nil
	case "mysql":
		dsn, err := mysqlDSN(cfg)
		if err != nil {
			return nil, err
		}
		return newSQLStore("mysql", dsn, dialectMySQL, cfg.Tables, log), nil
	case "sqlite", "sqlite3":
		dsn, err := sqliteDSN(cfg)
		if err != nil {
			return nil, err
		}
		return newSQLStore("sqlite", dsn, dialectSQLite, cfg.Tables, log), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// FromDB builds a store over an existing handle. The handle is shared by all
// calls and is not closed by the store.
func FromDB(db *sql.DB, driver string, tables Tables, log logx.Logger) (Store, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := newSQLStore(driver, "", d, tables, log)
	s.shared = db
	return s, nil
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "mysql":
		return dialectMySQL, nil
	case "sqlite", "sqlite3":
		return dialectSQLite, nil
	default:
		return 0, errors.New("unknown storage driver: " + driver)
	}
}

func mysqlDSN(cfg Config) (string, error) {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		if _, err := mysql.ParseDSN(dsn); err != nil {
			return "", fmt.Errorf("database.dsn: %w", err)
		}
		return dsn, nil
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return "", errors.New("database.name is required for mysql driver")
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Name
	if host := strings.TrimSpace(cfg.Host); host != "" {
		mc.Net = "tcp"
		mc.Addr = host
		if !strings.Contains(host, ":") {
			mc.Addr = host + ":3306"
		}
	}
	return mc.FormatDSN(), nil
}

func sqliteDSN(cfg Config) (string, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("database.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	q := url.Values{}
	if cfg.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode(), nil
}

// Bootstrap opens the configured store and creates the tables role needs.
func Bootstrap(ctx context.Context, cfg Config, role model.Role, log logx.Logger) error {
	st, err := Open(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Migrate(ctx, role)
}
