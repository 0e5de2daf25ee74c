// Package proc finds processes by exact name and terminates them with a
// graceful-then-forceful signal cycle.
//
// Name matching follows the `pgrep -x` rule: the process name must equal the
// target exactly, with no substring or command-line matching. Names longer than
// the kernel's 15-byte comm are compared in full, as the process table recovers
// them from the command line. Zombies and the calling process are never reported.
package proc
