package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		commandRequiredPolicy(),
		knownKindPolicy(),
		singleCommandPolicy(),
		knownTargetPolicy(),
		installSourcePolicy(),
	}
}

func builtin(name, description string, severity Severity, rego string) Policy {
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Rego:        rego,
	}
}

// commandRequiredPolicy rejects operations that would send nothing.
func commandRequiredPolicy() Policy {
	return builtin("command-required",
		"Operations must carry a non-empty device command",
		SeverityError,
		`package netops.admission.command

import rego.v1

deny contains msg if {
	trim_space(input.operation.command) == ""
	msg := sprintf("operation %s has no command", [input.operation.id])
}
`)
}

// knownKindPolicy rejects flows other than backup and update.
func knownKindPolicy() Policy {
	return builtin("known-kind",
		"Only backup and update operations are admitted",
		SeverityError,
		`package netops.admission.kind

import rego.v1

kinds := {"backup", "update"}

deny contains msg if {
	not input.operation.kind in kinds
	msg := sprintf("unsupported operation kind %q", [input.operation.kind])
}
`)
}

// singleCommandPolicy rejects commands that chain or span lines.
func singleCommandPolicy() Policy {
	return builtin("single-command",
		"Device commands must be a single line without separators",
		SeverityCritical,
		`package netops.admission.single

import rego.v1

deny contains msg if {
	regex.match("[\\r\\n;]", input.operation.command)
	msg := "command must be a single line without ';'"
}
`)
}

// knownTargetPolicy applies once a device inventory is published under
// data.netops.devices.
func knownTargetPolicy() Policy {
	return builtin("known-target",
		"Targets must be configured devices",
		SeverityError,
		`package netops.admission.target

import rego.v1

deny contains msg if {
	devices := data.netops.devices
	not input.operation.target_id in devices
	msg := sprintf("target %s is not a configured device", [input.operation.target_id])
}
`)
}

// installSourcePolicy warns when an image is pulled over a cleartext
// protocol.
func installSourcePolicy() Policy {
	return builtin("install-source",
		"Images should not be installed from tftp or ftp",
		SeverityWarning,
		`package netops.admission.install

import rego.v1

deny contains violation if {
	input.operation.kind == "update"
	regex.match("^install all nxos (tftp|ftp):", input.operation.command)
	violation := {
		"message": "image is installed over a cleartext protocol",
		"severity": "warning",
	}
}
`)
}
