// Package providers holds the authorization engines shared by the shims:
// the OAuth1 three-legged handshake, the OAuth2 authorization-code grant and
// the faked engine used by partner APIs that need no user consent. Each shim
// lives in its own subpackage and composes one of these engines.
package providers
