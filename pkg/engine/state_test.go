package engine

import (
	"os/exec"
	"reflect"
	"testing"
)

func TestFinalStateChange(t *testing.T) {
	action := &Action{
		StateOnSuccess:           "installed",
		StateOnFail:              "failed",
		MultiStateOnSuccessSet:   []string{"ok"},
		MultiStateOnSuccessUnset: []string{"dirty"},
		MultiStateOnFailSet:      []string{"dirty"},
	}

	tests := []struct {
		name   string
		sub    *SubAction
		status JobStatus
		want   objectStateChange
	}{
		{
			name:   "success uses action",
			sub:    &SubAction{StateOnFail: "ignored"},
			status: JobStatusSuccess,
			want:   objectStateChange{state: "installed", set: []string{"ok"}, unset: []string{"dirty"}},
		},
		{
			name:   "failure without sub-action",
			status: JobStatusFailed,
			want:   objectStateChange{state: "failed", set: []string{"dirty"}},
		},
		{
			name:   "sub-action overrides failure state",
			sub:    &SubAction{StateOnFail: "half", MultiStateOnFailUnset: []string{"ok"}},
			status: JobStatusFailed,
			want:   objectStateChange{state: "half", set: []string{"dirty"}, unset: []string{"ok"}},
		},
		{
			name:   "aborted changes nothing",
			status: JobStatusAborted,
			want:   objectStateChange{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := finalStateChange(action, tt.sub, tt.status)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("finalStateChange() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestStatusFromExitCode(t *testing.T) {
	tests := map[int]JobStatus{
		0:   JobStatusSuccess,
		1:   JobStatusFailed,
		2:   JobStatusFailed,
		-9:  JobStatusFailed,
		-15: JobStatusAborted,
	}
	for code, want := range tests {
		if got := StatusFromExitCode(code); got != want {
			t.Errorf("StatusFromExitCode(%d) = %s, want %s", code, got, want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if got := ExitCode(nil); got != 0 {
		t.Errorf("ExitCode(nil) = %d", got)
	}
	if got := ExitCode(exec.Command("sh", "-c", "exit 3").Run()); got != 3 {
		t.Errorf("ExitCode(exit 3) = %d", got)
	}
	if got := ExitCode(exec.Command("sh", "-c", "kill -TERM $$").Run()); got != -15 {
		t.Errorf("ExitCode(SIGTERM) = %d, want -15", got)
	}
}

func TestAction_Allowed(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		obj    Object
		want   bool
	}{
		{
			name:   "any state",
			action: Action{StateAvailable: AnyState, MultiStateAvailable: AnyState},
			obj:    Object{State: "created"},
			want:   true,
		},
		{
			name:   "listed state",
			action: Action{StateAvailable: StateSet{Items: []string{"created"}}, MultiStateAvailable: AnyState},
			obj:    Object{State: "created"},
			want:   true,
		},
		{
			name:   "state not listed",
			action: Action{StateAvailable: StateSet{Items: []string{"installed"}}, MultiStateAvailable: AnyState},
			obj:    Object{State: "created"},
		},
		{
			name: "unavailable state wins",
			action: Action{
				StateAvailable:      AnyState,
				StateUnavailable:    StateSet{Items: []string{"created"}},
				MultiStateAvailable: AnyState,
			},
			obj: Object{State: "created"},
		},
		{
			name: "multi-state required",
			action: Action{
				StateAvailable:      AnyState,
				MultiStateAvailable: StateSet{Items: []string{"ready"}},
			},
			obj:  Object{State: "created", MultiState: []string{"ready", "x"}},
			want: true,
		},
		{
			name: "multi-state unavailable",
			action: Action{
				StateAvailable:        AnyState,
				MultiStateAvailable:   AnyState,
				MultiStateUnavailable: StateSet{Items: []string{"locked"}},
			},
			obj: Object{State: "created", MultiState: []string{"locked"}},
		},
		{
			name:   "everything unavailable",
			action: Action{StateAvailable: AnyState, MultiStateAvailable: AnyState, StateUnavailable: AnyState},
			obj:    Object{State: "created"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.action.Allowed(&tt.obj); got != tt.want {
				t.Errorf("Allowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnsibleConfig(t *testing.T) {
	got := string(ansibleConfig(TaskConfig{AnsibleForks: 3}, map[string]interface{}{"jinja2_native": false}))
	want := "[defaults]\n" +
		"callback_whitelist = profile_tasks\n" +
		"forks = 3\n" +
		"jinja2_native = False\n" +
		"stdout_callback = yaml\n"
	if got != want {
		t.Errorf("ansibleConfig() =\n%s\nwant\n%s", got, want)
	}
}
