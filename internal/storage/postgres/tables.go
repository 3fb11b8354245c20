package postgres

import (
	"fmt"
	"strings"

	"stock_notifier/internal/models"
	"stock_notifier/internal/storage"

	"github.com/jackc/pgx/v5"
)

// splitTable accepts "table" or "schema.table".
func splitTable(table string) (schema, name string) {
	table = strings.TrimSpace(table)
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

func tableIdentifier(table string) pgx.Identifier {
	schema, name := splitTable(table)
	if schema == "" {
		return pgx.Identifier{name}
	}
	return pgx.Identifier{schema, name}
}

func identifier(table string) (string, error) {
	schema, name := splitTable(table)
	if name == "" || (strings.Contains(table, ".") && schema == "") {
		return "", fmt.Errorf("%w: %q", storage.ErrInvalidTableName, table)
	}
	return tableIdentifier(table).Sanitize(), nil
}

// missingHeaders compares case-insensitively and keeps the order of required.
func missingHeaders(columns, required []string) []string {
	have := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		have[models.NormalizeKey(c)] = struct{}{}
	}

	var missing []string
	for _, h := range required {
		if _, ok := have[h]; !ok {
			missing = append(missing, h)
		}
	}
	return missing
}
