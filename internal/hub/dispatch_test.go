//go:build linux || darwin

package hub

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tether-sh/tether/internal/authfile"
	"github.com/tether-sh/tether/internal/session"
)

// hubConn wraps the server side of a scripted conversation with the agent.
type hubConn struct {
	t    *testing.T
	ctx  context.Context
	conn *websocket.Conn
}

func (h *hubConn) send(v any) {
	h.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	if err := h.conn.Write(h.ctx, websocket.MessageText, data); err != nil {
		h.t.Fatalf("server write: %v", err)
	}
}

func (h *hubConn) expect(typ string) []byte {
	h.t.Helper()
	data, err := readType(h.ctx, h.conn, typ)
	if err != nil {
		h.t.Fatalf("waiting for %s: %v", typ, err)
	}
	return data
}

// expectOutputContaining accumulates terminal:output frames until the
// decoded stream contains want.
func (h *hubConn) expectOutputContaining(sessionID, want string) {
	h.t.Helper()
	var acc bytes.Buffer
	for {
		var out TerminalOutput
		json.Unmarshal(h.expect(EventTerminalOutput), &out)
		if out.SessionID != sessionID {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(out.Data)
		if err != nil {
			h.t.Fatalf("decode output: %v", err)
		}
		acc.Write(raw)
		if strings.Contains(acc.String(), want) {
			return
		}
	}
}

// startAgent runs a fully wired client against a scripted hub handler and
// returns once the script signals completion.
func startAgent(t *testing.T, script func(h *hubConn)) {
	t.Helper()
	done := make(chan struct{})
	var first sync.Once
	srv := newHubServer(t, func(conn *websocket.Conn) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		ran := false
		first.Do(func() {
			ran = true
			h := &hubConn{t: t, ctx: ctx, conn: conn}
			h.expect(EventSystemInfo)
			script(h)
			close(done)
		})
		if !ran {
			// Stray reconnect after the script finished; park until teardown.
			conn.Read(ctx)
		}
	})
	defer srv.Close()

	reg := session.NewRegistry(session.Options{ScrollbackBytes: 1 << 16})
	defer reg.KillAll()

	c := testClient(srv)
	c.Registry = reg
	c.Auth = authfile.NewService()
	defer c.Auth.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(20 * time.Second):
		t.Fatal("scripted conversation timed out")
	}
	cancel()
	<-runDone
}

func TestSessionLifecycleOverWire(t *testing.T) {
	startAgent(t, func(h *hubConn) {
		h.send(TerminalSpawn{
			Type:      EventTerminalSpawn,
			SessionID: "s1",
			Shell:     "/bin/cat",
			Cols:      80,
			Rows:      24,
		})
		h.send(TerminalInput{
			Type:      EventTerminalInput,
			SessionID: "s1",
			Data:      base64.StdEncoding.EncodeToString([]byte("hello wire\n")),
		})
		h.expectOutputContaining("s1", "hello wire")

		// Detach, then reattach: scrollback must replay what the session
		// already produced, tagged with the caller's request id.
		h.send(TerminalDetach{Type: EventTerminalDetach, SessionID: "s1"})
		h.send(TerminalReattach{Type: EventTerminalReattach, SessionID: "s1", RequestID: "r-7"})

		var sb TerminalScrollback
		json.Unmarshal(h.expect(EventTerminalScrollback), &sb)
		if sb.RequestID != "r-7" {
			h.t.Errorf("scrollback request_id = %q", sb.RequestID)
		}
		raw, _ := base64.StdEncoding.DecodeString(sb.Data)
		if !strings.Contains(string(raw), "hello wire") {
			h.t.Errorf("scrollback missing session output: %q", raw)
		}

		h.send(TerminalKill{Type: EventTerminalKill, SessionID: "s1"})
		var closed TerminalClosed
		json.Unmarshal(h.expect(EventTerminalClosed), &closed)
		if closed.SessionID != "s1" {
			h.t.Errorf("closed session = %q", closed.SessionID)
		}
	})
}

func TestDuplicateSpawnReportsError(t *testing.T) {
	startAgent(t, func(h *hubConn) {
		spawn := TerminalSpawn{Type: EventTerminalSpawn, SessionID: "dup", Shell: "/bin/cat", Cols: 80, Rows: 24}
		h.send(spawn)
		h.send(spawn)

		var te TerminalError
		json.Unmarshal(h.expect(EventTerminalError), &te)
		if te.Code != CodeDuplicateSession {
			h.t.Errorf("code = %q, want %q", te.Code, CodeDuplicateSession)
		}
		if te.SessionID != "dup" {
			h.t.Errorf("session = %q", te.SessionID)
		}
	})
}

func TestInputToUnknownSessionReportsError(t *testing.T) {
	startAgent(t, func(h *hubConn) {
		h.send(TerminalInput{
			Type:      EventTerminalInput,
			SessionID: "ghost",
			Data:      base64.StdEncoding.EncodeToString([]byte("x")),
		})
		var te TerminalError
		json.Unmarshal(h.expect(EventTerminalError), &te)
		if te.Code != CodeSessionNotFound {
			h.t.Errorf("code = %q, want %q", te.Code, CodeSessionNotFound)
		}
	})
}

func TestListSessionsOverWire(t *testing.T) {
	startAgent(t, func(h *hubConn) {
		h.send(TerminalListSessions{Type: EventTerminalListSessions, RequestID: "r-1"})
		var list TerminalSessionsList
		json.Unmarshal(h.expect(EventTerminalSessionsList), &list)
		if list.RequestID != "r-1" {
			h.t.Errorf("request_id = %q", list.RequestID)
		}
		if len(list.Sessions) != 0 {
			h.t.Errorf("sessions = %d, want 0", len(list.Sessions))
		}

		h.send(TerminalSpawn{Type: EventTerminalSpawn, SessionID: "ls-1", Shell: "/bin/cat", Cols: 80, Rows: 24})
		deadline := time.Now().Add(5 * time.Second)
		for {
			h.send(TerminalListSessions{Type: EventTerminalListSessions, RequestID: "r-2"})
			json.Unmarshal(h.expect(EventTerminalSessionsList), &list)
			if len(list.Sessions) == 1 && list.Sessions[0].ID == "ls-1" {
				break
			}
			if time.Now().After(deadline) {
				h.t.Fatalf("session never appeared in list: %+v", list.Sessions)
			}
			time.Sleep(20 * time.Millisecond)
		}
	})
}

func TestFileRoundTripOverWire(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "note.txt"), []byte("remote read"), 0644); err != nil {
		t.Fatal(err)
	}

	startAgent(t, func(h *hubConn) {
		h.send(FileRequest{Type: EventFilesList, RequestID: "f-1", Path: dir})
		var list FileResponse
		json.Unmarshal(h.expect(responseType(EventFilesList)), &list)
		if !list.Success || len(list.Entries) != 1 || list.Entries[0].Name != "note.txt" {
			h.t.Fatalf("list response = %+v", list)
		}

		h.send(FileRequest{Type: EventFileRead, RequestID: "f-2", Path: filepath.Join(dir, "note.txt")})
		var read FileResponse
		json.Unmarshal(h.expect(responseType(EventFileRead)), &read)
		content, _ := base64.StdEncoding.DecodeString(read.Content)
		if !read.Success || string(content) != "remote read" {
			h.t.Fatalf("read response = %+v", read)
		}

		h.send(FileRequest{Type: EventFileRead, RequestID: "f-3", Path: filepath.Join(dir, "missing")})
		var missing FileResponse
		json.Unmarshal(h.expect(responseType(EventFileRead)), &missing)
		if missing.Success || missing.RequestID != "f-3" || missing.Error == "" {
			h.t.Fatalf("missing-file response = %+v", missing)
		}
	})
}

func TestAuthDeployOverWire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "token.json")

	startAgent(t, func(h *hubConn) {
		h.send(AuthStatus{Type: EventAuthStatus, RequestID: "a-1", Path: path})
		var before AuthResponse
		json.Unmarshal(h.expect(responseType(EventAuthStatus)), &before)
		if !before.Success || before.Present {
			h.t.Fatalf("status before deploy = %+v", before)
		}

		h.send(AuthDeploy{
			Type:      EventAuthDeploy,
			RequestID: "a-2",
			Path:      path,
			Content:   base64.StdEncoding.EncodeToString([]byte(`{"token":"x"}`)),
		})
		var dep AuthResponse
		json.Unmarshal(h.expect(responseType(EventAuthDeploy)), &dep)
		if !dep.Success {
			h.t.Fatalf("deploy response = %+v", dep)
		}

		h.send(AuthStatus{Type: EventAuthStatus, RequestID: "a-3", Path: path})
		var after AuthResponse
		json.Unmarshal(h.expect(responseType(EventAuthStatus)), &after)
		if !after.Success || !after.Present {
			h.t.Fatalf("status after deploy = %+v", after)
		}
	})

	data, err := os.ReadFile(path)
	if err != nil || string(data) != `{"token":"x"}` {
		t.Fatalf("deployed file = %q, %v", data, err)
	}
}
