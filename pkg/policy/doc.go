// Package policy admits or denies operations with Open Policy Agent (OPA)
// Rego policies before any command reaches a device.
//
// Every policy is a Rego module whose package defines a deny set. Members
// of the set are strings or objects with message and severity keys. A
// member with severity error or critical denies the operation. Lower
// severities are logged.
//
// Policies see the operation as input:
//
//	{
//	  "operation": {"id": "...", "kind": "update", "target_id": "leaf-1", "command": "install all nxos ..."},
//	  "time": {"rfc3339": "2026-10-17T02:00:00Z", "weekday": "Saturday", "hour": 2, "minute": 0}
//	}
//
// and the configured device IDs as data.netops.devices once SetDevices has
// been called.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/netops/policies"}); err != nil {
//	    return err
//	}
//	deps.Admitter = eng
//
// A maintenance window policy, saved as window.rego:
//
//	# Updates only run at night.
//	# severity: error
//	package netops.admission.window
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.operation.kind == "update"
//	    input.time.hour >= 6
//	    msg := "updates are only admitted between 00:00 and 06:00 UTC"
//	}
//
// # Built-in Policies
//
//   - command-required: the operation carries a device command
//   - known-kind: only backup and update are admitted
//   - single-command: the command has no line breaks or ';'
//   - known-target: the target is in data.netops.devices, when published
//   - install-source: warns on tftp or ftp image sources
//
// Files loaded from disk replace each other on reload. Built-in policies
// stay loaded unless a file defines a policy with the same name.
package policy
