// Package yspec validates YAML documents against a declarative rule set.
//
// A rule set maps rule names to matchers. Every set has a "root" rule; rules
// reference each other by name and may be recursive:
//
//	root:
//	  match: list
//	  item: host
//	host:
//	  match: dict
//	  items:
//	    name: string
//	    port: int
//	  required_items: [name]
//	string:
//	  match: string
//	int:
//	  match: int
//
// Validation works on yaml.v3 nodes so that failures carry source lines.
// Data mismatches are reported as *FormatError, broken rule sets as
// *SchemaError.
package yspec
