// Package realtime implements the client side of the realtime channels.
//
// A session holds one status socket carrying presence and connection
// notifications, plus a chat socket and a typing socket for each open
// conversation. Mux creates and tracks these sockets.
//
// Every socket reconnects on its own after losing an established
// connection. The delay before attempt n is n times the reconnect interval,
// and the socket gives up after a fixed number of attempts. Envelopes sent
// while a socket is not open are queued and flushed in order once it opens.
//
// Inbound frames may hold several newline-separated envelopes. Each envelope
// is routed by type through a Dispatcher to the registered listeners.
// Presence folds the status events into a table of user statuses.
package realtime
