// Package core holds the shim contracts, the authorization entities and the
// orchestration that drives handshakes and data reads. Provider engines,
// storage and transport live in sibling packages and depend on core, never
// the other way around.
package core
