package stack

import (
	"regexp"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

var nameRe = regexp.MustCompile(`^[0-9a-zA-Z_.-]+$`)

// Reserved maintenance mode action names.
const (
	HostTurnOnMMAction  = "adcm_host_turn_on_maintenance_mode"
	HostTurnOffMMAction = "adcm_host_turn_off_maintenance_mode"
	TurnOnMMAction      = "adcm_turn_on_maintenance_mode"
	TurnOffMMAction     = "adcm_turn_off_maintenance_mode"
)

// mmForbiddenProps may not appear on service maintenance mode actions.
var mmForbiddenProps = []string{"config", "hc_acl", "ui_options"}

// ValidateName checks an identifier declared in a bundle. what describes
// the name for the error message, e.g. `Config key "port" of cluster "c" 1.0`.
func ValidateName(value, what string) error {
	if !nameRe.MatchString(value) {
		return engine.Errorf(engine.ErrCodeWrongName,
			"%s is incorrect. Only latin characters, digits, dots (.), dashes (-), and underscores (_) are allowed.", what)
	}
	return nil
}
