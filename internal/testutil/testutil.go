// Package testutil provides shared test helpers.
//
// The miniredis helpers back every Redis-dependent unit test; they run fully
// in-process and do not require Docker or a real Redis server.
package testutil
