// Package otcoreerr defines the typed error conditions of the sync core
// (spec §7). One exported struct per condition, each with an Error()
// method, following luvjson/common/errors.go's shape rather than a bag of
// sentinel values.
package otcoreerr

import "fmt"

// AssertError reports invalid configuration, thrown synchronously from
// plugin construction. It never reaches onError.
type AssertError struct {
	Message string
}

func (e AssertError) Error() string {
	return fmt.Sprintf("assert: %s", e.Message)
}

// SchemaConflictErrorKind distinguishes the three ways schema negotiation
// can fail (spec §4.4, §4.5, §7).
type SchemaConflictErrorKind int

const (
	// MigrationFailed means the snapshot's document could not be
	// converted to the local schema.
	MigrationFailed SchemaConflictErrorKind = iota
	// LocalSchemaStale means the server's schema is newer than the
	// client's and the client must be upgraded before it can proceed.
	LocalSchemaStale
	// RemoteOperationStale means an incoming operation was encoded
	// under a schema the local client no longer recognizes as current.
	RemoteOperationStale
)

// SchemaConflictError reports that schema negotiation cannot proceed
// without outside intervention (upgrading the client, or the server
// accepting a new registration).
type SchemaConflictError struct {
	Kind SchemaConflictErrorKind
}

func (e SchemaConflictError) Error() string {
	switch e.Kind {
	case MigrationFailed:
		return "Failed to convert the snapshot's document to the local schema."
	case LocalSchemaStale:
		return "Cannot convert the snapshot's schema because the local schema is out of date."
	case RemoteOperationStale:
		return "Cannot process the operation because the local schema is out of date."
	default:
		return "schema conflict"
	}
}

// AlreadyExistsKey names which part of a submitted operation collided on
// the server.
type AlreadyExistsKey string

const (
	// KeyOperationKey means an operation with the same key was already
	// recorded: the earlier submission must have gone through.
	KeyOperationKey AlreadyExistsKey = "key"
	// KeyVersion means another operation already produced this version:
	// the client must catch up before retrying.
	KeyVersion AlreadyExistsKey = "version"
)

// AlreadyExistsError is a submission conflict. It is never surfaced to
// onError; the sync loop recovers from it locally (spec §4.5 Submit,
// §7 Propagation policy). For KeyVersion, Value is the latest version
// the server already holds; the next submission carries Value+1.
type AlreadyExistsError struct {
	Key   AlreadyExistsKey
	Value int64
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("already exists: %s=%d", e.Key, e.Value)
}
