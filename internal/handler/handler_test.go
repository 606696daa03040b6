package handler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atom-ide/atomd/internal/ipcserver"
	"github.com/atom-ide/atomd/internal/wire"
)

func TestPing(t *testing.T) {
	h := New()
	resp := h.Handle(context.Background(), ipcserver.Request{Body: wire.Ping{}})
	if _, ok := resp.(wire.Pong); !ok {
		t.Fatalf("expected Pong, got %#v", resp)
	}
}

func TestSleepCompletesWithoutCancellation(t *testing.T) {
	h := New()
	resp := h.Handle(context.Background(), ipcserver.Request{Body: wire.Sleep{Millis: 5}})
	if _, ok := resp.(wire.Success); !ok {
		t.Fatalf("expected Success, got %#v", resp)
	}
}

func TestSleepAbortsOnCancellation(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	resp := h.Handle(ctx, ipcserver.Request{Body: wire.Sleep{Millis: 60_000}})
	errBody, ok := resp.(wire.Error)
	if !ok || errBody.Message != "Cancelled" {
		t.Fatalf("expected Error{Cancelled}, got %#v", resp)
	}
}

func TestOpenSaveCloseBufferRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	h := New()
	openResp := h.Handle(context.Background(), ipcserver.Request{Body: wire.OpenBuffer{Path: path}})
	opened, ok := openResp.(wire.BufferOpened)
	if !ok || opened.Content != "original" {
		t.Fatalf("expected BufferOpened with original content, got %#v", openResp)
	}

	saveResp := h.Handle(context.Background(), ipcserver.Request{
		Body: wire.SaveBuffer{BufferID: opened.BufferID, Content: "updated"},
	})
	if _, ok := saveResp.(wire.BufferSaved); !ok {
		t.Fatalf("expected BufferSaved, got %#v", saveResp)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(onDisk) != "updated" {
		t.Fatalf("expected file to be updated on disk, got %q", onDisk)
	}

	closeResp := h.Handle(context.Background(), ipcserver.Request{Body: wire.CloseBuffer{BufferID: opened.BufferID}})
	if _, ok := closeResp.(wire.BufferClosed); !ok {
		t.Fatalf("expected BufferClosed, got %#v", closeResp)
	}

	againResp := h.Handle(context.Background(), ipcserver.Request{Body: wire.CloseBuffer{BufferID: opened.BufferID}})
	if errBody, ok := againResp.(wire.Error); !ok || errBody.Message != "buffer not found" {
		t.Fatalf("expected buffer-not-found error on double close, got %#v", againResp)
	}
}

func TestGetProjectFilesWalksTree(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir sub: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	h := New()
	resp := h.Handle(context.Background(), ipcserver.Request{Body: wire.GetProjectFiles{RootPath: dir}})
	files, ok := resp.(wire.ProjectFiles)
	if !ok {
		t.Fatalf("expected ProjectFiles, got %#v", resp)
	}
	if len(files.Files) != 2 {
		t.Fatalf("expected 2 files, got %#v", files.Files)
	}
}

func TestLspRequestWithoutBridgeReturnsError(t *testing.T) {
	h := New()
	resp := h.Handle(context.Background(), ipcserver.Request{
		Body: wire.LspRequest{Server: "rust-analyzer", Method: "textDocument/hover"},
	})
	errBody, ok := resp.(wire.Error)
	if !ok || errBody.Message != "lsp bridge not configured" {
		t.Fatalf("expected lsp-bridge-not-configured error, got %#v", resp)
	}
}

func TestLspRequestWithBridge(t *testing.T) {
	h := New(WithLspBridge(func(ctx context.Context, server, method string, params []byte) ([]byte, error) {
		return []byte(`{"ok":true}`), nil
	}))
	resp := h.Handle(context.Background(), ipcserver.Request{
		Body: wire.LspRequest{Server: "rust-analyzer", Method: "textDocument/hover"},
	})
	lspResp, ok := resp.(wire.LspResponse)
	if !ok || string(lspResp.Result) != `{"ok":true}` {
		t.Fatalf("expected bridged LspResponse, got %#v", resp)
	}
}
