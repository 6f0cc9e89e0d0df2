package hub

import (
	"time"

	"github.com/tether-sh/tether/internal/session"
)

// Event names for the hub websocket protocol. Every message is a JSON
// object with a "type" field used for routing; request/response pairs carry
// a caller-supplied request_id echoed back verbatim so the hub can match
// replies on a channel multiplexing terminal, file, and git traffic at once.
const (
	// Hub → agent (terminal control)
	EventTerminalSpawn        = "terminal:spawn"
	EventTerminalInput        = "terminal:input"
	EventTerminalResize       = "terminal:resize"
	EventTerminalKill         = "terminal:kill"
	EventTerminalDetach       = "terminal:detach"
	EventTerminalGetCwd       = "terminal:getcwd"
	EventTerminalListSessions = "terminal:list-sessions"
	EventTerminalReattach     = "terminal:reattach"

	// Agent → hub (terminal events and replies)
	EventTerminalOutput       = "terminal:output"
	EventTerminalClosed       = "terminal:closed"
	EventTerminalError        = "terminal:error"
	EventTerminalCwd          = "terminal:cwd"
	EventTerminalSessionsList = "terminal:sessions-list"
	EventTerminalScrollback   = "terminal:scrollback"

	// Agent → hub (connection lifecycle)
	EventSystemInfo = "system:info"
	EventHeartbeat  = "heartbeat"

	// Hub → agent (peripheral requests; replies are "<name>:response")
	EventFilesList  = "files:list"
	EventFileRead   = "file:read"
	EventFileWrite  = "file:write"
	EventFileDelete = "file:delete"
	EventFileMkdir  = "file:mkdir"
	EventFileRename = "file:rename"
	EventFileStat   = "file:stat"

	EventGitStatus   = "git:status"
	EventGitAdd      = "git:add"
	EventGitReset    = "git:reset"
	EventGitCommit   = "git:commit"
	EventGitPull     = "git:pull"
	EventGitPush     = "git:push"
	EventGitDiff     = "git:diff"
	EventGitLog      = "git:log"
	EventGitBranches = "git:branches"
	EventGitCheckout = "git:checkout"

	EventAuthDeploy = "auth:deploy"
	EventAuthStatus = "auth:status"
)

// Error codes carried by terminal:error events.
const (
	CodeDuplicateSession = "duplicate_session"
	CodeSessionNotFound  = "session_not_found"
	CodeSpawnFailure     = "spawn_failure"
	CodeBadRequest       = "bad_request"
)

// Envelope wraps every message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// TerminalSpawn requests a new interactive session. There is no direct
// reply; output, exit, and errors arrive asynchronously.
type TerminalSpawn struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	Shell         string `json:"shell"`
	Cols          int    `json:"cols"`
	Rows          int    `json:"rows"`
	Cwd           string `json:"cwd,omitempty"`
	IdleTimeoutMs int64  `json:"idle_timeout_ms,omitempty"`
}

// TerminalInput carries keystrokes to a session. Data is base64-encoded.
type TerminalInput struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// TerminalOutput carries raw terminal bytes to the hub. Data is
// base64-encoded.
type TerminalOutput struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// TerminalResize changes a session's PTY dimensions.
type TerminalResize struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// TerminalKill terminates a session.
type TerminalKill struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
}

// TerminalDetach detaches the remote client from a session, keeping the
// process alive.
type TerminalDetach struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
}

// TerminalGetCwd asks for a session's live working directory.
type TerminalGetCwd struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
}

// TerminalCwd is the reply to terminal:getcwd.
type TerminalCwd struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	Cwd       string `json:"cwd"`
}

// TerminalListSessions asks for a snapshot of live sessions.
type TerminalListSessions struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

// TerminalSessionsList is the reply to terminal:list-sessions.
type TerminalSessionsList struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Sessions  []session.Info `json:"sessions"`
}

// TerminalReattach requests reattachment to a detached session. The reply
// is terminal:scrollback, after which the terminal:output stream resumes.
type TerminalReattach struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
}

// TerminalScrollback replays buffered output on reattach. Data is
// base64-encoded.
type TerminalScrollback struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id,omitempty"`
	Data      string `json:"data"`
}

// TerminalClosed reports a session's process exit.
type TerminalClosed struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// TerminalError reports a per-session failure. Never fatal to the agent.
type TerminalError struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// SystemInfo announces the agent's identity. Sent exactly once per
// successful (re)connect.
type SystemInfo struct {
	Type          string `json:"type"`
	AgentID       string `json:"agent_id"`
	Hostname      string `json:"hostname,omitempty"`
	Platform      string `json:"platform,omitempty"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Heartbeat is the periodic liveness message, suppressed while disconnected.
type Heartbeat struct {
	Type          string `json:"type"`
	AgentID       string `json:"agent_id"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// FileRequest covers all file operations; unused fields stay empty.
// Content is base64-encoded for file:write.
type FileRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Path      string `json:"path,omitempty"`
	NewPath   string `json:"new_path,omitempty"` // file:rename
	Content   string `json:"content,omitempty"`  // file:write
}

// FileEntry is one row in a files:list response.
type FileEntry struct {
	Name    string    `json:"name"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
}

// FileResponse is the "<name>:response" reply to a file operation.
// Content is base64-encoded for file:read.
type FileResponse struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Content   string      `json:"content,omitempty"`
	Entries   []FileEntry `json:"entries,omitempty"`
	Stat      *FileEntry  `json:"stat,omitempty"`
}

// GitRequest covers all git operations; unused fields stay empty.
type GitRequest struct {
	Type      string   `json:"type"`
	RequestID string   `json:"request_id"`
	Dir       string   `json:"dir"`
	Paths     []string `json:"paths,omitempty"`   // git:add, git:reset
	Message   string   `json:"message,omitempty"` // git:commit
	Branch    string   `json:"branch,omitempty"`  // git:checkout
	Limit     int      `json:"limit,omitempty"`   // git:log
}

// GitResponse is the "<name>:response" reply to a git operation.
type GitResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Output    string `json:"output,omitempty"`
}

// AuthDeploy provisions a credential file. Content is base64-encoded.
type AuthDeploy struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Path      string `json:"path"`
	Content   string `json:"content"`
}

// AuthStatus asks whether a credential file is present.
type AuthStatus struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Path      string `json:"path"`
}

// AuthResponse is the "<name>:response" reply to auth:deploy / auth:status.
type AuthResponse struct {
	Type       string     `json:"type"`
	RequestID  string     `json:"request_id"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
	Present    bool       `json:"present,omitempty"`
	ModifiedAt *time.Time `json:"modified_at,omitempty"`
}

// responseType derives the "<name>:response" event name.
func responseType(requestType string) string {
	return requestType + ":response"
}
