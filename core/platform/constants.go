package platform

import (
	"strings"
)

const (
	Athena   = "athena"
	Postgres = "postgres"
	Redshift = "redshift"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

func NormalizeDialect(dialect string) string {
	switch strings.ToLower(dialect) {
	case "athena", "glue":
		return Athena
	case "pgx", "postgresql", "postgres":
		return Postgres
	case "redshift":
		return Redshift
	case "mysql":
		return MySQL
	case "sqlite", "sqlite3":
		return SQLite
	default:
		return ""
	}
}
