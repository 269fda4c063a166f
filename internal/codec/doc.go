// Package codec decodes Hermes and Solana payloads into typed observations.
//
// Snapshot payloads (REST):
//   - v1: flat JSON array of feed objects (/api/latest_price_feeds)
//   - v2: {"binary": {...}, "parsed": [...]} (/v2/updates/price/latest)
//
// Stream payloads (WebSocket) decode into the closed Event set:
// SubscribeAck, PriceUpdate, BlockUpdate, Unrecognized. Connection closure is
// not an Event; it arrives as a connection.FrameClosed frame.
//
// Numeric fields that arrive as decimal strings (price, conf) must parse as
// integers; a record that fails is reported and dropped, never inserted.
package codec
