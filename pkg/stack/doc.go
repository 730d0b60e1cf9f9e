// Package stack reads bundle definition files into a staging area.
//
// A bundle is a directory tree holding one or more config.yaml (or
// config.yml) files. Each file is decoded into a YAML node tree, checked
// against the embedded bundle rule set with package yspec, and then every
// object it declares is written to a staging.Area together with its actions,
// sub-actions, config keys, components, upgrades, exports and imports.
//
// Checks that need more than one object, such as hc_acl and component
// requirements, run later over the whole staging area.
package stack
