package sessionclient

import (
	"errors"
	"fmt"
	"net/http"
)

// errReconnectExhausted surfaces once all reconnect attempts fail without
// ever hitting a definitive 404 (spec §4.G: "On HTTP 404 … or exhaustion,
// surface disconnection").
var errReconnectExhausted = errors.New("sessionclient: reconnect attempts exhausted")

// errNotConnected guards writes attempted before a channel is open.
var errNotConnected = errors.New("sessionclient: not connected")

// httpStatusError carries the status code of a failed HTTP call so the
// reconnect loop can distinguish "room gone" from a transient failure.
type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("sessionclient: unexpected status %s", e.Status)
}

func isNotFound(err error) bool {
	var hsErr *httpStatusError
	return errors.As(err, &hsErr) && hsErr.StatusCode == http.StatusNotFound
}
