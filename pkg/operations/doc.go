// Package operations implements the device operation flows built on the
// engine: configuration backup to a TFTP server and NX-OS software update.
//
// Each flow issues one command, runs its phases through an engine.Sequencer,
// and reports exactly one terminal outcome to a Notifier. Devices, notifiers,
// artifact probes and archives are consumed through the interfaces in this
// package; the concrete SSH implementation lives in pkg/transports/ssh.
package operations
