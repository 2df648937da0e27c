// status.go — StagingItem status state machine and video MIME allow-list.
//
// Lifecycle:
//
//	writing ──(assembly complete)──► pending
//	pending ──(run controller picks up)──► uploading
//	uploading ──(quota check fails)──► storage_fail | daily_fail | max_upload_fail
//	uploading ──(publish succeeds)──► row deleted; published_records row created
//	uploading ──(any other failure)──► error
//	storage_fail/daily_fail/max_upload_fail/error ──(re-queued)──► uploading
//
// "writing" and "uploading" rows never appear in list or queue queries:
// writing means an intake is still streaming, uploading means a run owns it.
package staging

// Status is the lifecycle state of a StagingItem.
type Status string

const (
	StatusWriting       Status = "writing"
	StatusPending       Status = "pending"
	StatusUploading     Status = "uploading"
	StatusStorageFail   Status = "storage_fail"
	StatusDailyFail     Status = "daily_fail"
	StatusMaxUploadFail Status = "max_upload_fail"
	StatusError         Status = "error"
)

// Transient mirror values recorded on an item immediately before its row is
// deleted on successful publish. Never queried; kept for parity with the
// published record's readiness field.
const (
	StatusReady    Status = "ready"
	StatusNotReady Status = "not_ready"
)

// ProcessableStatuses is the set of statuses the run controller drains.
// Order is irrelevant; membership is the contract.
func ProcessableStatuses() []Status {
	return []Status{
		StatusPending,
		StatusStorageFail,
		StatusDailyFail,
		StatusMaxUploadFail,
		StatusError,
	}
}

// IsProcessable reports whether a run may pick up an item in status s.
func (s Status) IsProcessable() bool {
	switch s {
	case StatusPending, StatusStorageFail, StatusDailyFail, StatusMaxUploadFail, StatusError:
		return true
	}
	return false
}

// Valid reports whether s is a known persisted status value.
func (s Status) Valid() bool {
	switch s {
	case StatusWriting, StatusPending, StatusUploading,
		StatusStorageFail, StatusDailyFail, StatusMaxUploadFail, StatusError:
		return true
	}
	return false
}

// allowedMimeTypes is the fixed video MIME allow-list for intake.
var allowedMimeTypes = map[string]struct{}{
	"video/mp4":        {},
	"video/webm":       {},
	"video/x-matroska": {},
	"video/quicktime":  {},
	"video/x-msvideo":  {},
	"video/mpeg":       {},
}

// MimeAllowed reports whether ct is on the intake allow-list.
func MimeAllowed(ct string) bool {
	_, ok := allowedMimeTypes[ct]
	return ok
}
