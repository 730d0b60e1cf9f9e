// Package admission decides whether a staged bundle may enter the catalog.
//
// Policies are Rego modules evaluated with OPA against the bundle manifest
// built after staging. Each module defines a deny set whose entries are
// either strings or objects with message, severity and prototype keys:
//
//	package stackmgr.admission.owners
//
//	import rego.v1
//
//	deny contains violation if {
//		input.edition == "enterprise"
//		some proto in input.prototypes
//		proto.license == "absent"
//		violation := {"message": sprintf("%s %q has no license", [proto.type, proto.name])}
//	}
//
// Violations of severity error or critical reject the bundle with
// BUNDLE_POLICY_VIOLATION; warnings are logged. Policy files (.rego, or
// .json holding a Policy) are read from the configured policy directory
// and reloaded on change by Loader.Watch.
package admission
