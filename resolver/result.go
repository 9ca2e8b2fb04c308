package resolver

// Result is the terminal outcome of one resolution. It is built once, by
// succeeded or failed, and never modified afterwards.
type Result struct {
	Success   bool      `json:"success"`
	Download  string    `json:"download,omitempty"`
	Name      string    `json:"name,omitempty"`
	URL       string    `json:"url,omitempty"`
	Token     string    `json:"token,omitempty"`
	Kind      ErrorKind `json:"error,omitempty"`
	Details   string    `json:"details,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms"`
	RequestID string    `json:"request_id,omitempty"`
}

func succeeded(id, download, name, url, token string, elapsedMs int64) Result {
	return Result{
		Success:   true,
		Download:  download,
		Name:      name,
		URL:       url,
		Token:     token,
		ElapsedMs: elapsedMs,
		RequestID: id,
	}
}

func failed(id string, kind ErrorKind, details, url, token string, elapsedMs int64) Result {
	return Result{
		Success:   false,
		Kind:      kind,
		Details:   details,
		URL:       url,
		Token:     token,
		ElapsedMs: elapsedMs,
		RequestID: id,
	}
}

// Err returns the failure as an *Error, or nil on success.
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Details: r.Details}
}

// HTTPStatus is the status code the HTTP API answers this result with.
func (r Result) HTTPStatus() int {
	if r.Success {
		return 200
	}
	return r.Kind.HTTPStatus()
}
