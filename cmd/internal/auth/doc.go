// Package auth resolves the authenticated user id for HTTP and websocket requests.
//
// Identity itself is owned by another service; this package only verifies PASETO v4.public
// access tokens it issued, or trusts a header in development.
package auth
