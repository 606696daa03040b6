package wire

// Request variant tags.
const (
	reqPing byte = iota
	reqSleep
	reqOpenBuffer
	reqSaveBuffer
	reqCloseBuffer
	reqSearch
	reqGetProjectFiles
	reqLspRequest
	reqGetStats
)

// RequestBody is the closed set of request payloads.
type RequestBody interface{ requestTag() byte }

// Ping is a liveness probe.
type Ping struct{}

func (Ping) requestTag() byte { return reqPing }

// Sleep is a synthetic long-running operation used to exercise cancellation
// and deadline handling without workload coupling.
type Sleep struct{ Millis uint64 }

func (Sleep) requestTag() byte { return reqSleep }

// OpenBuffer asks the handler to open the file at Path as a buffer.
type OpenBuffer struct{ Path string }

func (OpenBuffer) requestTag() byte { return reqOpenBuffer }

// SaveBuffer writes Content to the buffer identified by BufferID.
type SaveBuffer struct{ BufferID, Content string }

func (SaveBuffer) requestTag() byte { return reqSaveBuffer }

// CloseBuffer releases the buffer identified by BufferID.
type CloseBuffer struct{ BufferID string }

func (CloseBuffer) requestTag() byte { return reqCloseBuffer }

// Search runs Query against the current workspace root under Options.
type Search struct {
	Query   string
	Options SearchOptions
}

func (Search) requestTag() byte { return reqSearch }

// GetProjectFiles enumerates files under RootPath, which also becomes the
// connection's cached workspace root for subsequent Search requests.
type GetProjectFiles struct{ RootPath string }

func (GetProjectFiles) requestTag() byte { return reqGetProjectFiles }

// LspRequest is an opaque pass-through to a named LSP server.
type LspRequest struct {
	Server string
	Method string
	Params []byte // opaque JSON value
}

func (LspRequest) requestTag() byte { return reqLspRequest }

// GetStats returns the current metrics snapshot.
type GetStats struct{}

func (GetStats) requestTag() byte { return reqGetStats }

// SearchOptions configures a Search request. An empty IncludePattern or
// ExcludePattern means "no filter"; MaxResults of 0 means "use the
// handler's default" (the reference handler defaults to 1000).
type SearchOptions struct {
	CaseSensitive  bool
	WholeWord      bool
	Regex          bool
	IncludePattern string
	ExcludePattern string
	MaxResults     uint32
}
