// Package roster keeps the list of users the local user can talk to.
//
// The list comes from the server once per session and never contains the
// local user. Filter applies a case-insensitive name search and an optional
// online-only restriction using whatever presence source the caller passes.
package roster
