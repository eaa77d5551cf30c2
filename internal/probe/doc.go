// Package probe implements the network probe core: target validation with
// private-range and denylist enforcement, a bounded port-scan scheduler, TCP
// connects and pings, banner capture and TLS inspection.
//
// Every operation validates its target first and then connects only to the
// address that passed validation, so a name cannot be re-resolved to a
// forbidden address between the check and the connect.
package probe
