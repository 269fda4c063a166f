// Package ingest runs the stream consumption loop.
//
// One Ingester owns one stream connection, one subscription manager and one
// latest-value cache. Its loop moves through:
//
//	Disconnected -> Connecting -> Subscribing -> Streaming -> Disconnected
//
// Every session starts from scratch: the server keeps no subscription state
// across connections, so all known keys are demoted to pending and subscribed
// again. Decode errors drop the offending message only. Transport failures and
// rejected subscribes end the session and the loop reconnects after a capped
// exponential backoff. Stop is the only way to leave the loop.
//
// The cache is written only by the loop. Latest and Snapshot may be called
// from any goroutine, as may Register and Unregister.
package ingest
