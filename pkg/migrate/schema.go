package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/angelmondragon/marketsplit-backend/pkg/db/models"
)

type tabler interface {
	TableName() string
}

// RequiredTables lists the tables behind every persisted model.
func RequiredTables() []string {
	all := models.All()
	tables := make([]string, 0, len(all))
	for _, m := range all {
		if t, ok := m.(tabler); ok {
			tables = append(tables, t.TableName())
		}
	}
	return tables
}

// MissingTables returns the required tables that do not exist in db.
func MissingTables(ctx context.Context, db *sql.DB) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	var missing []string
	for _, table := range RequiredTables() {
		var found sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)::text", "public."+table).Scan(&found); err != nil {
			return nil, fmt.Errorf("look up table %s: %w", table, err)
		}
		if !found.Valid {
			missing = append(missing, table)
		}
	}
	return missing, nil
}
