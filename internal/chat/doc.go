// Package chat holds the state of an open conversation: the merged message
// list with optimistic sends, typing indicators in both directions, and
// automatic read marking.
package chat
