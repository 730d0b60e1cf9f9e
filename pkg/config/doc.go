// Package config loads the stackmgr runtime settings.
//
// Settings are written in CUE and checked against an embedded #Settings
// definition, then decoded over the defaults and validated with struct
// tags. Paths that are not set explicitly are derived from data_dir:
//
//	data_dir:       "/srv/stackmgr"
//	server_version: "2024.1.1"
//	ansible_forks:  10
//	policy_dir:     "/etc/stackmgr/policies"
//	status_api: {
//		url:   "http://127.0.0.1:8020/api/v1/event/"
//		token: "secret"
//	}
//	logging: format: "json"
//
// With this file BundleDir is /srv/stackmgr/bundle and RunDir is
// /srv/stackmgr/run.
package config
