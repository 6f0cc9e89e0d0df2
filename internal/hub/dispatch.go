package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tether-sh/tether/internal/files"
	"github.com/tether-sh/tether/internal/session"
)

// handle routes one inbound message. Handler failures are reported back to
// the hub as events; they never tear down the connection.
func (c *Client) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("unparseable message from hub", "err", err)
		return
	}

	switch env.Type {
	case EventTerminalSpawn:
		c.handleSpawn(ctx, data)
	case EventTerminalInput:
		c.handleInput(ctx, data)
	case EventTerminalResize:
		c.handleResize(ctx, data)
	case EventTerminalKill:
		c.handleKill(ctx, data)
	case EventTerminalDetach:
		c.handleDetach(ctx, data)
	case EventTerminalGetCwd:
		c.handleGetCwd(ctx, data)
	case EventTerminalListSessions:
		c.handleListSessions(ctx, data)
	case EventTerminalReattach:
		c.handleReattach(ctx, data)
	case EventFilesList, EventFileRead, EventFileWrite, EventFileDelete,
		EventFileMkdir, EventFileRename, EventFileStat:
		c.handleFile(ctx, env.Type, data)
	case EventGitStatus, EventGitAdd, EventGitReset, EventGitCommit,
		EventGitPull, EventGitPush, EventGitDiff, EventGitLog,
		EventGitBranches, EventGitCheckout:
		c.handleGit(ctx, env.Type, data)
	case EventAuthDeploy:
		c.handleAuthDeploy(ctx, data)
	case EventAuthStatus:
		c.handleAuthStatus(ctx, data)
	default:
		slog.Debug("ignoring unknown event", "type", env.Type)
	}
}

// errorCode maps a registry error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrDuplicateSession):
		return CodeDuplicateSession
	case errors.Is(err, session.ErrSessionNotFound):
		return CodeSessionNotFound
	default:
		return CodeBadRequest
	}
}

func (c *Client) sendError(ctx context.Context, sessionID, requestID, code string, err error) {
	c.writeJSON(ctx, TerminalError{
		Type:      EventTerminalError,
		SessionID: sessionID,
		RequestID: requestID,
		Code:      code,
		Error:     err.Error(),
	})
}

// subscriber builds the forwarding callbacks for one session. Output and
// exit stream to whatever connection is live at delivery time; bytes
// produced while disconnected are not forwarded (scrollback keeps them for
// the next reattach).
func (c *Client) subscriber(ctx context.Context, sessionID string) *session.Subscriber {
	return &session.Subscriber{
		Output: func(data []byte) {
			c.writeJSON(ctx, TerminalOutput{
				Type:      EventTerminalOutput,
				SessionID: sessionID,
				Data:      base64.StdEncoding.EncodeToString(data),
			})
		},
		Exit: func(code int) {
			c.writeJSON(ctx, TerminalClosed{
				Type:      EventTerminalClosed,
				SessionID: sessionID,
				ExitCode:  code,
			})
		},
	}
}

func (c *Client) handleSpawn(ctx context.Context, data []byte) {
	var msg TerminalSpawn
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("bad spawn message", "err", err)
		return
	}
	cfg := session.Config{
		ID:          msg.SessionID,
		Shell:       msg.Shell,
		Cols:        msg.Cols,
		Rows:        msg.Rows,
		Dir:         msg.Cwd,
		IdleTimeout: time.Duration(msg.IdleTimeoutMs) * time.Millisecond,
	}
	if _, err := c.Registry.Spawn(cfg, c.subscriber(ctx, msg.SessionID)); err != nil {
		code := CodeSpawnFailure
		if errors.Is(err, session.ErrDuplicateSession) {
			code = CodeDuplicateSession
		}
		c.sendError(ctx, msg.SessionID, "", code, err)
		return
	}
	slog.Info("session spawned", "session", msg.SessionID, "shell", msg.Shell)
}

func (c *Client) handleInput(ctx context.Context, data []byte) {
	var msg TerminalInput
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.sendError(ctx, msg.SessionID, "", CodeBadRequest, fmt.Errorf("decode input: %w", err))
		return
	}
	if err := c.Registry.Write(msg.SessionID, raw); err != nil {
		c.sendError(ctx, msg.SessionID, "", errorCode(err), err)
	}
}

func (c *Client) handleResize(ctx context.Context, data []byte) {
	var msg TerminalResize
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := c.Registry.Resize(msg.SessionID, msg.Cols, msg.Rows); err != nil {
		c.sendError(ctx, msg.SessionID, "", errorCode(err), err)
	}
}

func (c *Client) handleKill(ctx context.Context, data []byte) {
	var msg TerminalKill
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := c.Registry.Kill(msg.SessionID); err != nil {
		c.sendError(ctx, msg.SessionID, msg.RequestID, errorCode(err), err)
		return
	}
	c.writeJSON(ctx, TerminalClosed{
		Type:      EventTerminalClosed,
		SessionID: msg.SessionID,
		ExitCode:  -1,
	})
	slog.Info("session killed", "session", msg.SessionID)
}

func (c *Client) handleDetach(ctx context.Context, data []byte) {
	var msg TerminalDetach
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if err := c.Registry.Detach(msg.SessionID); err != nil {
		c.sendError(ctx, msg.SessionID, msg.RequestID, errorCode(err), err)
		return
	}
	slog.Info("session detached", "session", msg.SessionID)
}

func (c *Client) handleGetCwd(ctx context.Context, data []byte) {
	var msg TerminalGetCwd
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	cwd, err := c.Registry.Cwd(ctx, msg.SessionID)
	if err != nil {
		c.sendError(ctx, msg.SessionID, msg.RequestID, errorCode(err), err)
		return
	}
	c.writeJSON(ctx, TerminalCwd{
		Type:      EventTerminalCwd,
		SessionID: msg.SessionID,
		RequestID: msg.RequestID,
		Cwd:       cwd,
	})
}

func (c *Client) handleListSessions(ctx context.Context, data []byte) {
	var msg TerminalListSessions
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	infos := c.Registry.List()
	if infos == nil {
		infos = []session.Info{}
	}
	c.writeJSON(ctx, TerminalSessionsList{
		Type:      EventTerminalSessionsList,
		RequestID: msg.RequestID,
		Sessions:  infos,
	})
}

func (c *Client) handleReattach(ctx context.Context, data []byte) {
	var msg TerminalReattach
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	// The replay callback runs under the session lock, before the new
	// subscriber is installed, so the scrollback frame reaches the wire
	// ahead of any live output and no chunk appears in both.
	replayed := 0
	err := c.Registry.Reattach(msg.SessionID, c.subscriber(ctx, msg.SessionID), func(buf []byte) {
		replayed = len(buf)
		c.writeJSON(ctx, TerminalScrollback{
			Type:      EventTerminalScrollback,
			SessionID: msg.SessionID,
			RequestID: msg.RequestID,
			Data:      base64.StdEncoding.EncodeToString(buf),
		})
	})
	if err != nil {
		c.sendError(ctx, msg.SessionID, msg.RequestID, errorCode(err), err)
		return
	}
	slog.Info("session reattached", "session", msg.SessionID, "scrollback_bytes", replayed)
}

func fileEntry(e files.Entry) FileEntry {
	return FileEntry{
		Name:    e.Name,
		IsDir:   e.IsDir,
		Size:    e.Size,
		Mode:    e.Mode,
		ModTime: e.ModTime,
	}
}

func (c *Client) handleFile(ctx context.Context, typ string, data []byte) {
	var req FileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	resp := FileResponse{Type: responseType(typ), RequestID: req.RequestID, Success: true}

	var err error
	switch typ {
	case EventFilesList:
		var entries []files.Entry
		if entries, err = c.Files.List(req.Path); err == nil {
			resp.Entries = make([]FileEntry, 0, len(entries))
			for _, e := range entries {
				resp.Entries = append(resp.Entries, fileEntry(e))
			}
		}
	case EventFileRead:
		var content []byte
		if content, err = c.Files.Read(req.Path); err == nil {
			resp.Content = base64.StdEncoding.EncodeToString(content)
		}
	case EventFileWrite:
		var content []byte
		if content, err = base64.StdEncoding.DecodeString(req.Content); err == nil {
			err = c.Files.Write(req.Path, content)
		}
	case EventFileDelete:
		err = c.Files.Delete(req.Path)
	case EventFileMkdir:
		err = c.Files.Mkdir(req.Path)
	case EventFileRename:
		err = c.Files.Rename(req.Path, req.NewPath)
	case EventFileStat:
		var entry files.Entry
		if entry, err = c.Files.Stat(req.Path); err == nil {
			fe := fileEntry(entry)
			resp.Stat = &fe
		}
	}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		resp.Entries = nil
		resp.Content = ""
		resp.Stat = nil
	}
	c.writeJSON(ctx, resp)
}

func (c *Client) handleGit(ctx context.Context, typ string, data []byte) {
	var req GitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	var out string
	var err error
	switch typ {
	case EventGitStatus:
		out, err = c.Git.Status(ctx, req.Dir)
	case EventGitAdd:
		out, err = c.Git.Add(ctx, req.Dir, req.Paths)
	case EventGitReset:
		out, err = c.Git.Reset(ctx, req.Dir, req.Paths)
	case EventGitCommit:
		out, err = c.Git.Commit(ctx, req.Dir, req.Message)
	case EventGitPull:
		out, err = c.Git.Pull(ctx, req.Dir)
	case EventGitPush:
		out, err = c.Git.Push(ctx, req.Dir)
	case EventGitDiff:
		out, err = c.Git.Diff(ctx, req.Dir, req.Paths)
	case EventGitLog:
		out, err = c.Git.Log(ctx, req.Dir, req.Limit)
	case EventGitBranches:
		out, err = c.Git.Branches(ctx, req.Dir)
	case EventGitCheckout:
		out, err = c.Git.Checkout(ctx, req.Dir, req.Branch)
	}

	resp := GitResponse{Type: responseType(typ), RequestID: req.RequestID, Success: err == nil, Output: out}
	if err != nil {
		resp.Error = err.Error()
	}
	c.writeJSON(ctx, resp)
}

func (c *Client) handleAuthDeploy(ctx context.Context, data []byte) {
	var req AuthDeploy
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	resp := AuthResponse{Type: responseType(EventAuthDeploy), RequestID: req.RequestID, Success: true}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err == nil {
		err = c.Auth.Deploy(req.Path, content)
	}
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
	}
	c.writeJSON(ctx, resp)
}

func (c *Client) handleAuthStatus(ctx context.Context, data []byte) {
	var req AuthStatus
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	resp := AuthResponse{Type: responseType(EventAuthStatus), RequestID: req.RequestID, Success: true}

	status, err := c.Auth.Check(req.Path)
	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
	} else {
		resp.Present = status.Present
		if status.Present {
			t := status.ModifiedAt
			resp.ModifiedAt = &t
		}
	}
	c.writeJSON(ctx, resp)
}
