package model

import (
	"fmt"
	"net/http"
)

// DiamondServerUnavailableError means no host could be chosen for a unit,
// either because discovery returned nothing or the snapshot fallback was
// also empty.
type DiamondServerUnavailableError struct {
	Unit string
}

func (e *DiamondServerUnavailableError) Error() string {
	return fmt.Sprintf("diamond: no server available for unit %q", e.Unit)
}

// DiamondServerResponseError covers both transport errors and unexpected
// HTTP status codes. URL, Data and Headers are attached for diagnostics.
type DiamondServerResponseError struct {
	URL        string
	StatusCode int
	Data       string
	Headers    http.Header
	Err        error
}

func (e *DiamondServerResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("diamond: request to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("diamond: request to %s returned status %d", e.URL, e.StatusCode)
}

func (e *DiamondServerResponseError) Unwrap() error { return e.Err }

// DiamondServerConflictError is returned when the server reports a
// concurrent modification (HTTP 409) on a write.
type DiamondServerConflictError struct {
	URL string
}

func (e *DiamondServerConflictError) Error() string {
	return fmt.Sprintf("diamond: conflict writing via %s", e.URL)
}

// DiamondServerHostEmptyError means discovery returned zero hosts for a
// unit.
type DiamondServerHostEmptyError struct {
	Unit string
}

func (e *DiamondServerHostEmptyError) Error() string {
	return fmt.Sprintf("diamond: discovery returned no hosts for unit %q", e.Unit)
}

// DiamondUpdateServersError wraps a single unit's failure during a
// background server-list refresh tick.
type DiamondUpdateServersError struct {
	Unit string
	Err  error
}

func (e *DiamondUpdateServersError) Error() string {
	return fmt.Sprintf("diamond: failed to refresh server list for unit %q: %v", e.Unit, e.Err)
}

func (e *DiamondUpdateServersError) Unwrap() error { return e.Err }

// DiamondSyncConfigError wraps a failed resync of one subscription.
type DiamondSyncConfigError struct {
	DataId string
	Group  string
	Err    error
}

func (e *DiamondSyncConfigError) Error() string {
	return fmt.Sprintf("diamond: failed to resync dataId=%q group=%q: %v", e.DataId, e.Group, e.Err)
}

func (e *DiamondSyncConfigError) Unwrap() error { return e.Err }

// DiamondLongPullingError wraps a failed probe request or an
// unparseable probe response.
type DiamondLongPullingError struct {
	Err error
}

func (e *DiamondLongPullingError) Error() string {
	return fmt.Sprintf("diamond: long polling probe failed: %v", e.Err)
}

func (e *DiamondLongPullingError) Unwrap() error { return e.Err }

// DiamondBatchDeserializeError means a batchGetConfig response body could
// not be parsed as JSON. Body carries the raw response for diagnostics.
type DiamondBatchDeserializeError struct {
	Body string
	Err  error
}

func (e *DiamondBatchDeserializeError) Error() string {
	return fmt.Sprintf("diamond: failed to deserialize batch response: %v", e.Err)
}

func (e *DiamondBatchDeserializeError) Unwrap() error { return e.Err }

// SnapshotReadError wraps a local filesystem read failure. It is only
// ever reported, never returned to a caller.
type SnapshotReadError struct {
	Key string
	Err error
}

func (e *SnapshotReadError) Error() string {
	return fmt.Sprintf("diamond: snapshot read failed for key %q: %v", e.Key, e.Err)
}

func (e *SnapshotReadError) Unwrap() error { return e.Err }

// SnapshotWriteError wraps a local filesystem write failure.
type SnapshotWriteError struct {
	Key   string
	Value string
	Err   error
}

func (e *SnapshotWriteError) Error() string {
	return fmt.Sprintf("diamond: snapshot write failed for key %q: %v", e.Key, e.Err)
}

func (e *SnapshotWriteError) Unwrap() error { return e.Err }

// SnapshotDeleteError wraps a local filesystem delete failure.
type SnapshotDeleteError struct {
	Key string
	Err error
}

func (e *SnapshotDeleteError) Error() string {
	return fmt.Sprintf("diamond: snapshot delete failed for key %q: %v", e.Key, e.Err)
}

func (e *SnapshotDeleteError) Unwrap() error { return e.Err }

// ServerListSnapShotJSONParseError means the locally cached server list
// for a unit was corrupt JSON. The caller must delete the snapshot so it
// cannot poison future fallbacks.
type ServerListSnapShotJSONParseError struct {
	Unit string
	Err  error
}

func (e *ServerListSnapShotJSONParseError) Error() string {
	return fmt.Sprintf("diamond: corrupt server list snapshot for unit %q: %v", e.Unit, e.Err)
}

func (e *ServerListSnapShotJSONParseError) Unwrap() error { return e.Err }
