// Package subscription implements the Subscription Manager component.
//
// Keys of interest live in exactly one of two sets:
//   - pending: requested locally, not yet sent on the current connection
//   - active: sent in a subscribe batch on the current connection
//
// Subscriptions do NOT survive connection loss. On reconnect every active key
// is demoted to pending and the whole set is subscribed again from scratch.
package subscription
