// Package handler is the in-process reference implementation of the
// ipcserver.Handler contract. The buffer store, search delegate, and
// project enumeration it wraps are a concrete demonstration handler, not
// the only possible one, but a complete, runnable repo needs a real
// implementation behind the interface to exercise every request variant
// end to end.
package handler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atom-ide/atomd/internal/ipcserver"
	"github.com/atom-ide/atomd/internal/searchexec"
	"github.com/atom-ide/atomd/internal/wire"
)

// LspBridge forwards an opaque LSP request to a named language server.
// Bridging to a real language server is out of scope; this
// hook exists only so LspRequest is exercised end to end by tests.
type LspBridge func(ctx context.Context, server, method string, params []byte) ([]byte, error)

type openBuffer struct {
	path    string
	content string
}

// Reference is the default Handler: an in-memory buffer store, a grep-backed
// search delegate, and a filesystem walk for project enumeration.
type Reference struct {
	buffersMu sync.Mutex
	buffers   map[string]*openBuffer

	lspBridge LspBridge
}

// Option configures a Reference handler at construction time.
type Option func(*Reference)

// WithLspBridge wires a language-server passthrough into LspRequest handling.
func WithLspBridge(fn LspBridge) Option { return func(r *Reference) { r.lspBridge = fn } }

// New builds a Reference handler.
func New(opts ...Option) *Reference {
	r := &Reference{buffers: make(map[string]*openBuffer)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle implements ipcserver.Handler.
func (r *Reference) Handle(ctx context.Context, req ipcserver.Request) wire.ResponseBody {
	switch body := req.Body.(type) {
	case wire.Ping:
		return wire.Pong{}
	case wire.Sleep:
		return r.handleSleep(ctx, body)
	case wire.OpenBuffer:
		return r.handleOpenBuffer(body)
	case wire.SaveBuffer:
		return r.handleSaveBuffer(body)
	case wire.CloseBuffer:
		return r.handleCloseBuffer(body)
	case wire.Search:
		return r.handleSearch(ctx, req.WorkspaceRoot, body)
	case wire.GetProjectFiles:
		return r.handleGetProjectFiles(ctx, body)
	case wire.LspRequest:
		return r.handleLspRequest(ctx, body)
	case wire.GetStats:
		// Answered directly by ipcserver before a Handler is ever invoked;
		// reachable only if a caller invokes Handle directly in a test.
		return wire.Stats{}
	default:
		return wire.Error{Message: fmt.Sprintf("unsupported request: %T", body)}
	}
}

func (r *Reference) handleSleep(ctx context.Context, body wire.Sleep) wire.ResponseBody {
	timer := time.NewTimer(time.Duration(body.Millis) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return wire.Success{}
	case <-ctx.Done():
		return wire.Error{Message: "Cancelled"}
	}
}

func (r *Reference) handleOpenBuffer(body wire.OpenBuffer) wire.ResponseBody {
	content, err := os.ReadFile(body.Path)
	if err != nil {
		return wire.Error{Message: fmt.Sprintf("open buffer: %v", err)}
	}
	id := uuid.NewString()
	r.buffersMu.Lock()
	r.buffers[id] = &openBuffer{path: body.Path, content: string(content)}
	r.buffersMu.Unlock()
	return wire.BufferOpened{BufferID: id, Content: string(content)}
}

func (r *Reference) handleSaveBuffer(body wire.SaveBuffer) wire.ResponseBody {
	r.buffersMu.Lock()
	buf, ok := r.buffers[body.BufferID]
	if ok {
		buf.content = body.Content
	}
	r.buffersMu.Unlock()
	if !ok {
		return wire.Error{Message: "buffer not found"}
	}
	if err := os.WriteFile(buf.path, []byte(body.Content), 0o644); err != nil {
		return wire.Error{Message: fmt.Sprintf("save buffer: %v", err)}
	}
	return wire.BufferSaved{BufferID: body.BufferID}
}

func (r *Reference) handleCloseBuffer(body wire.CloseBuffer) wire.ResponseBody {
	r.buffersMu.Lock()
	_, ok := r.buffers[body.BufferID]
	delete(r.buffers, body.BufferID)
	r.buffersMu.Unlock()
	if !ok {
		return wire.Error{Message: "buffer not found"}
	}
	return wire.BufferClosed{BufferID: body.BufferID}
}

func (r *Reference) handleSearch(ctx context.Context, workspaceRoot string, body wire.Search) wire.ResponseBody {
	root := workspaceRoot
	if root == "" {
		root = "."
	}
	results, err := searchexec.Search(ctx, root, body.Query, body.Options)
	if err != nil {
		return wire.Error{Message: fmt.Sprintf("search: %v", err)}
	}
	return wire.SearchResults{Results: results}
}

func (r *Reference) handleGetProjectFiles(ctx context.Context, body wire.GetProjectFiles) wire.ResponseBody {
	var files []string
	err := filepath.WalkDir(body.RootPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(body.RootPath, path)
		if relErr != nil {
			rel = path
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return wire.Error{Message: fmt.Sprintf("get project files: %v", err)}
	}
	return wire.ProjectFiles{Files: files}
}

func (r *Reference) handleLspRequest(ctx context.Context, body wire.LspRequest) wire.ResponseBody {
	if r.lspBridge == nil {
		return wire.Error{Message: "lsp bridge not configured"}
	}
	result, err := r.lspBridge(ctx, body.Server, body.Method, body.Params)
	if err != nil {
		return wire.Error{Message: fmt.Sprintf("lsp bridge: %v", err)}
	}
	return wire.LspResponse{Result: result}
}
