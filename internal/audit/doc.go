// Package audit implements the operator action audit log for the Launch
// Control Container.
//
// Every API-initiated mission action (start, abort, resume) is recorded as
// one JSON line with the acting user, mission, parameters, outcome, and
// latency. Files rotate by size and age so a long-lived container never
// fills its disk with audit history.
package audit
