package wire

// Notification variant tags. Notifications are server-initiated, one-way,
// and uncorrelated to any request id.
const (
	notifyBufferChanged byte = iota
	notifyDiagnosticsUpdate
	notifyFileSystemChanged
)

// NotificationBody is the closed set of notification payloads.
type NotificationBody interface{ notificationTag() byte }

// BufferChanged reports edits applied to an open buffer.
type BufferChanged struct {
	BufferID string
	Changes  []TextChange
}

func (BufferChanged) notificationTag() byte { return notifyBufferChanged }

// DiagnosticsUpdate reports a fresh LSP diagnostics set for a document URI.
type DiagnosticsUpdate struct {
	URI         string
	Diagnostics []byte // opaque JSON value
}

func (DiagnosticsUpdate) notificationTag() byte { return notifyDiagnosticsUpdate }

// FileSystemChanged reports a filesystem event under the workspace root.
type FileSystemChanged struct {
	Path       string
	ChangeType FileChangeType
}

func (FileSystemChanged) notificationTag() byte { return notifyFileSystemChanged }

// FileChangeType tags (closed set).
const (
	fcCreated byte = iota
	fcModified
	fcDeleted
	fcRenamed
)

// FileChangeType is the closed set of filesystem change kinds.
type FileChangeType interface{ fileChangeTag() byte }

type Created struct{}

func (Created) fileChangeTag() byte { return fcCreated }

type Modified struct{}

func (Modified) fileChangeTag() byte { return fcModified }

type Deleted struct{}

func (Deleted) fileChangeTag() byte { return fcDeleted }

type Renamed struct{ OldPath, NewPath string }

func (Renamed) fileChangeTag() byte { return fcRenamed }

// TextChange is one edit applied to a buffer.
type TextChange struct {
	Range   TextRange
	NewText string
	OldText string
}

// TextRange is a half-open [Start, End) range expressed in line/column
// coordinates, both zero-based.
type TextRange struct {
	StartLine   uint32
	StartColumn uint32
	EndLine     uint32
	EndColumn   uint32
}
