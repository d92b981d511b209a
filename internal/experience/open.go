package experience

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// Drivers accepted by Open.
const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open builds the store selected by driver and loads its history. path is
// the JSON document or SQLite file; databaseURL is used for postgres.
func Open(ctx context.Context, driver, path, databaseURL string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "", DriverJSON:
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		s = NewJSONStore(path)
	case DriverSQLite:
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		s, err = NewSQLite(path)
	case DriverPostgres:
		if databaseURL == "" {
			return nil, eris.New("experience: postgres driver requires experience.database_url")
		}
		s, err = NewPostgres(ctx, databaseURL)
	default:
		return nil, eris.Errorf("experience: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	s.Load(ctx)
	return s, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "experience: create %s", dir)
	}
	return nil
}
