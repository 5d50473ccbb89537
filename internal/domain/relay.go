package domain

// RelayResult is the terminal outcome of one relay attempt. URL is set when
// OK is true, ErrorMessage otherwise.
type RelayResult struct {
	OK           bool   `json:"ok"`
	URL          string `json:"url,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Err carries the typed cause of a failed relay.
	Err error `json:"-"`
}

// RelaySucceeded returns a successful result for url.
func RelaySucceeded(url string) RelayResult {
	return RelayResult{OK: true, URL: url}
}

// RelayFailedWith returns a failed result carrying err.
func RelayFailedWith(err error) RelayResult {
	msg := "relay failed"
	if err != nil {
		msg = err.Error()
	}
	return RelayResult{ErrorMessage: msg, Err: err}
}
