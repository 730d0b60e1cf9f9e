package admission

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		scriptPathPolicy(),
		venvPolicy(),
		hostActionPolicy(),
	}
}

// scriptPathPolicy keeps action scripts inside the bundle directory.
func scriptPathPolicy() Policy {
	return Policy{
		Name:        "script-path",
		Description: "Action scripts must be relative paths inside the bundle",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package stackmgr.admission.scripts

import rego.v1

deny contains violation if {
	some proto in input.prototypes
	some action in proto.actions
	some script in action.scripts
	script.script_type != "internal"
	startswith(script.script, "/")
	violation := {
		"message": sprintf("Script %q of action %q of %s %q is an absolute path", [script.script, action.name, proto.type, proto.name]),
		"prototype": proto.name,
	}
}

deny contains violation if {
	some proto in input.prototypes
	some action in proto.actions
	some script in action.scripts
	script.script_type != "internal"
	startswith(script.script, "../")
	violation := {
		"message": sprintf("Script %q of action %q of %s %q points outside the bundle", [script.script, action.name, proto.type, proto.name]),
		"prototype": proto.name,
	}
}
`,
	}
}

// venvPolicy flags prototypes that run in a non-default virtualenv.
func venvPolicy() Policy {
	return Policy{
		Name:        "custom-venv",
		Description: "Reports prototypes whose actions run in a non-default venv",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package stackmgr.admission.venv

import rego.v1

deny contains violation if {
	some proto in input.prototypes
	not proto.venv in {"", "default"}
	violation := {
		"message": sprintf("%s %q runs in venv %q", [proto.type, proto.name, proto.venv]),
		"prototype": proto.name,
	}
}
`,
	}
}

// hostActionPolicy restricts host_action to the prototypes that own hosts
// through components.
func hostActionPolicy() Policy {
	return Policy{
		Name:        "host-action-owner",
		Description: "host_action is only meaningful on cluster, service and component actions",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package stackmgr.admission.hostaction

import rego.v1

deny contains violation if {
	some proto in input.prototypes
	proto.type in {"provider", "host", "adcm"}
	some action in proto.actions
	action.host_action
	violation := {
		"message": sprintf("Action %q of %s %q is marked host_action", [action.name, proto.type, proto.name]),
		"prototype": proto.name,
	}
}
`,
	}
}
