// Package message defines the values that accompany an envelope through the
// server: the handler reply and the extension values the server attaches.
package message

import (
	"net/http"
	"time"
)

// Reply is what a handler returns for one call.
//
//   - Payload holds the serialized reply; Error is non-empty if the call failed.
//   - Header is copied onto the HTTP response and back into the client's Reply.
type Reply struct {
	ServiceMethod string      // Format: "ServiceName.MethodName", e.g., "Arith.Add"
	Error         string      // Non-empty if the handler returned an error
	Payload       []byte      // Serialized reply
	Header        http.Header // Response metadata, may be nil
}

// Fail builds a failed reply.
func Fail(serviceMethod, msg string) *Reply {
	return &Reply{ServiceMethod: serviceMethod, Error: msg}
}

// Call describes the inbound call. The server stores it in the request
// extensions because the envelope itself does not keep the target URI.
type Call struct {
	ServiceMethod string
	RemoteAddr    string
	Received      time.Time
}

// Deadline is the absolute deadline derived from the caller's timeout header.
type Deadline struct {
	At time.Time
}
