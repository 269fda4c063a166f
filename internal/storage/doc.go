// Package storage mirrors the latest accepted observation per key into Redis
// so other processes can read it without a stream connection.
//
// Each key is stored as a hash at <prefix><key> with fields "version" and
// "data" (JSON). Writes go through a Lua script that refuses to replace a
// newer version, matching the in-process cache's ordering rule.
package storage
