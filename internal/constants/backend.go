package constants

// Backend names a run store implementation.
type Backend string

const (
	// BackendMemory keeps runs in process memory only.
	BackendMemory Backend = "memory"

	// BackendSQLite persists runs to a local SQLite database.
	BackendSQLite Backend = "sqlite"

	// BackendPostgres persists runs to a Postgres database.
	BackendPostgres Backend = "postgres"
)

// Valid returns true if the backend is a recognized value.
func (b Backend) Valid() bool {
	switch b {
	case BackendMemory, BackendSQLite, BackendPostgres:
		return true
	}
	return false
}

// String returns the string representation of the backend.
func (b Backend) String() string {
	return string(b)
}
