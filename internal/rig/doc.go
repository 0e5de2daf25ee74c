// Package rig drives the field rig's process lifecycle: it tears down whatever is
// running (gpsd, dump1090, logger interpreters and the gpsd systemd units) and then
// starts gpsd, dump1090 and the two logger scripts in a fixed order, each detached
// with its output appended to a per-target log file.
//
// Only a log directory that cannot be created stops a run. Every other anomaly is
// logged and the sequence carries on.
package rig
