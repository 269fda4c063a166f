// Package api provides the Hermes REST client used for one-shot snapshots.
//
// Endpoints:
//   - v1: GET /api/latest_price_feeds?ids[]=...&binary=true
//   - v2: GET /v2/updates/price/latest?ids[]=...&encoding=base64&parsed=true
//
// Default base URL: https://hermes.pyth.network
//
// Each Fetch issues exactly one request. Retries are left to the caller;
// APIError.IsRetryable tells it which failures are worth another attempt.
package api
