// Package state holds what one manager invocation leaves for the next: the PID
// ledger of processes it launched, and the run lock that keeps two invocations
// from interleaving their stop and start sequences.
package state
