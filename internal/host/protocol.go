package host

// ///////////////////////////////////////////////
// Wire Protocol
// ///////////////////////////////////////////////

// ProtocolVersion is sent in every [Hello]; the daemon rejects other values.
const ProtocolVersion = 1

// Commands carried in [Request.Cmd].
const (
	CmdPin     = "PIN"
	CmdResolve = "RESOLVE"
	CmdCall    = "CALL"
)

// Events carried in [Response.Evt].
const (
	EvtReady = "READY"
	EvtOK    = "OK"
	EvtError = "ERROR"
)

// AppInfo describes the monitored application. It travels in the handshake
// so reports can be attributed without a round trip.
type AppInfo struct {
	Name         string `json:"name,omitempty"`
	Version      string `json:"version,omitempty"`
	ReleaseStage string `json:"release_stage,omitempty"`
}

// Hello is the handshake payload that opens a session.
type Hello struct {
	Version int     `json:"v"`
	PID     int     `json:"pid"`
	App     AppInfo `json:"app"`
}

// Request is a command frame sent by the monitored process.
type Request struct {
	Cmd   string      `json:"cmd"`
	Nonce string      `json:"nonce"`
	Args  RequestArgs `json:"args"`
}

// RequestArgs holds the union of command arguments.
type RequestArgs struct {
	// Collector names the daemon-side collector to pin (PIN).
	Collector string `json:"collector,omitempty"`
	// Ref is a pinned reference (RESOLVE, CALL).
	Ref Ref `json:"ref,omitempty"`
	// Name and Signature select a method (RESOLVE).
	Name      string `json:"name,omitempty"`
	Signature string `json:"signature,omitempty"`
	// Method is a resolved method id (CALL).
	Method uint64 `json:"method,omitempty"`
}

// Response answers a [Request] or a [Hello].
type Response struct {
	Nonce  string `json:"nonce,omitempty"`
	Evt    string `json:"evt"`
	Ref    Ref    `json:"ref,omitempty"`
	Method uint64 `json:"method,omitempty"`
	// Error is set when Evt is EvtError.
	Error string `json:"error,omitempty"`
	// Raised marks an error that came from the callback itself.
	Raised bool `json:"raised,omitempty"`
}
