// Package channel implements the push connection bound to one task id: a
// websocket with a keepalive probe whose inbound traffic is exposed as a
// single event stream instead of mutable callbacks.
package channel
