// Package router fans accepted updates out to downstream consumers.
//
// Each consumer registers a named route and receives its own GrowableBuffer,
// so a slow archive writer cannot stall the Redis mirror or the ingestion
// loop. Publish never blocks: a route whose buffer is at its maximum capacity
// drops the update and the drop is counted.
package router
