// Package conformance contains end-to-end IRC conformance scenarios, run with
// go test.
//
// By default, the scenarios run against an in-process fake server. Point them
// at a real server with:
//
//	go test ./conformance -args -target=irc.example.net:6667 -password=secret
//
// See internal/config for the remaining flags.
package conformance
