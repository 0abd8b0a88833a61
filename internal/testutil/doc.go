// Package testutil contains builders and fakes shared by tests across
// packages: fluent event and session builders plus a recording observer.
// They are not intended for production usage.
package testutil
