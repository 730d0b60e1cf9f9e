package engine

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/job_config.schema.json
var jobConfigSchemaJSON []byte

const jobConfigSchemaURL = "https://stackmgr.local/schemas/job_config.schema.json"

var (
	jobConfigSchemaOnce sync.Once
	jobConfigSchema     *jsonschema.Schema
	jobConfigSchemaErr  error
)

func compiledJobConfigSchema() (*jsonschema.Schema, error) {
	jobConfigSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(jobConfigSchemaURL, bytes.NewReader(jobConfigSchemaJSON)); err != nil {
			jobConfigSchemaErr = fmt.Errorf("job config schema load failed: %w", err)
			return
		}
		jobConfigSchema, jobConfigSchemaErr = c.Compile(jobConfigSchemaURL)
	})
	return jobConfigSchema, jobConfigSchemaErr
}

// jobContext is everything needed to materialize a job directory.
type jobContext struct {
	task   *Task
	job    *Job
	action *Action
	sub    *SubAction
	proto  *Prototype
	bundle *Bundle
	obj    *Object
}

func (jc *jobContext) scriptType() ScriptType {
	if jc.sub != nil {
		return jc.sub.ScriptType
	}
	return jc.action.ScriptType
}

func (jc *jobContext) params() map[string]interface{} {
	if jc.sub != nil && len(jc.sub.Params) > 0 {
		return jc.sub.Params
	}
	return jc.action.Params
}

// loadJobContext reads the catalog rows a job depends on.
func loadJobContext(ctx context.Context, store Store, task *Task, job *Job) (*jobContext, error) {
	jc := &jobContext{task: task, job: job}

	var err error
	if jc.action, err = store.GetAction(ctx, job.ActionID); err != nil {
		return nil, fmt.Errorf("failed to get action of job %d: %w", job.ID, err)
	}
	if job.SubActionID != nil {
		if jc.sub, err = store.GetSubAction(ctx, *job.SubActionID); err != nil {
			return nil, fmt.Errorf("failed to get sub-action of job %d: %w", job.ID, err)
		}
	}
	if jc.proto, err = store.GetPrototype(ctx, jc.action.PrototypeID); err != nil {
		return nil, fmt.Errorf("failed to get prototype of job %d: %w", job.ID, err)
	}
	if jc.bundle, err = store.GetBundle(ctx, jc.proto.BundleID); err != nil {
		return nil, fmt.Errorf("failed to get bundle of job %d: %w", job.ID, err)
	}
	if task.ObjectID != nil {
		if jc.obj, err = store.GetObject(ctx, task.ObjectType, *task.ObjectID); err != nil {
			return nil, fmt.Errorf("failed to get object of task %d: %w", task.ID, err)
		}
	}
	return jc, nil
}

// PrepareJob writes config.json, ansible.cfg and inventory.json into the
// job directory.
// It runs before every launch, so a restarted job always sees the current
// task config and object.
func PrepareJob(ctx context.Context, store Store, cfg TaskConfig, task *Task, job *Job) error {
	jc, err := loadJobContext(ctx, store, task, job)
	if err != nil {
		return err
	}
	return prepareJob(ctx, store, cfg, jc)
}

func prepareJob(ctx context.Context, store Store, cfg TaskConfig, jc *jobContext) error {
	dir := cfg.JobDir(jc.job.ID)
	if err := os.MkdirAll(filepath.Join(dir, "tmp"), 0o755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	conf, err := buildJobConfig(ctx, store, cfg, jc)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(conf, "", "   ")
	if err != nil {
		return fmt.Errorf("failed to encode job config: %w", err)
	}
	if err := validateJobConfig(data); err != nil {
		return Errorf(ErrCodeTask, "job #%d config is invalid", jc.job.ID).Wrap(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write job config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "ansible.cfg"), ansibleConfig(cfg, jc.params()), 0o644); err != nil {
		return fmt.Errorf("failed to write ansible config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "inventory.json"), localInventory, 0o644); err != nil {
		return fmt.Errorf("failed to write inventory: %w", err)
	}
	return nil
}

// localInventory runs every play on the supervisor host.
var localInventory = []byte(`{
   "all": {
      "hosts": {
         "localhost": {
            "ansible_connection": "local"
         }
      }
   }
}
`)

func validateJobConfig(data []byte) error {
	schema, err := compiledJobConfigSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode job config: %w", err)
	}
	return schema.Validate(doc)
}

// buildJobConfig renders the document handed to job scripts.
func buildJobConfig(ctx context.Context, store Store, cfg TaskConfig, jc *jobContext) (map[string]interface{}, error) {
	action, proto, job := jc.action, jc.proto, jc.job
	stackDir := filepath.Join(cfg.BundleDir, jc.bundle.Hash)

	jobConf := map[string]interface{}{
		"id":          job.ID,
		"action":      action.Name,
		"job_name":    action.Name,
		"command":     action.Name,
		"script":      action.Script,
		"script_type": string(jc.scriptType()),
		"verbose":     jc.task.Verbose,
		"playbook":    cookScript(stackDir, proto, action, jc.sub),
	}
	if len(action.Params) > 0 {
		jobConf["params"] = action.Params
	}
	if jc.sub != nil {
		jobConf["script"] = jc.sub.Script
		jobConf["job_name"] = jc.sub.Name
		jobConf["command"] = jc.sub.Name
		if len(jc.sub.Params) > 0 {
			jobConf["params"] = jc.sub.Params
		}
	}
	if jc.task.Config != nil {
		jobConf["config"] = jc.task.Config
	}

	objType := jc.task.ObjectType
	selector := map[string]interface{}{"type": string(proto.Type)}
	if jc.obj != nil {
		selector[string(objType)+"_id"] = jc.obj.ID
		if objType != ObjectTypeHost || !action.HostAction {
			selector["type"] = string(objType)
		}
	}

	switch proto.Type {
	case ObjectTypeCluster:
		jobConf["hostgroup"] = "CLUSTER"
		if jc.obj != nil && objType == ObjectTypeCluster {
			jobConf["cluster_id"] = jc.obj.ID
		}
	case ObjectTypeService:
		jobConf["hostgroup"] = proto.Name
		jobConf["service_type_id"] = proto.ID
		if jc.obj != nil && objType == ObjectTypeService {
			jobConf["service_id"] = jc.obj.ID
		}
	case ObjectTypeComponent:
		group := proto.Name
		if proto.ParentID != nil {
			parent, err := store.GetPrototype(ctx, *proto.ParentID)
			if err != nil {
				return nil, fmt.Errorf("failed to get service of component %s: %w", proto.Name, err)
			}
			group = parent.Name + "." + proto.Name
		}
		jobConf["hostgroup"] = group
		jobConf["component_type_id"] = proto.ID
		if jc.obj != nil && objType == ObjectTypeComponent {
			jobConf["component_id"] = jc.obj.ID
		}
	case ObjectTypeHost:
		jobConf["hostgroup"] = "HOST"
		jobConf["host_type_id"] = proto.ID
		if jc.obj != nil {
			jobConf["host_id"] = jc.obj.ID
			jobConf["hostname"] = jc.obj.Name
		}
	case ObjectTypeProvider:
		jobConf["hostgroup"] = "PROVIDER"
		if jc.obj != nil && objType == ObjectTypeProvider {
			jobConf["provider_id"] = jc.obj.ID
		}
	case ObjectTypeADCM:
		jobConf["hostgroup"] = "127.0.0.1"
	default:
		return nil, Errorf(ErrCodeTask, "unknown prototype type %q", proto.Type)
	}
	if action.HostAction && jc.obj != nil && objType == ObjectTypeHost {
		jobConf["host_id"] = jc.obj.ID
		jobConf["hostname"] = jc.obj.Name
	}

	return map[string]interface{}{
		"adcm":    map[string]interface{}{"config": map[string]interface{}{}},
		"context": selector,
		"env": map[string]interface{}{
			"run_dir":          cfg.RunDir,
			"log_dir":          cfg.LogDir,
			"tmp_dir":          filepath.Join(cfg.JobDir(job.ID), "tmp"),
			"stack_dir":        stackDir,
			"status_api_token": cfg.StatusToken,
		},
		"job": jobConf,
	}, nil
}

// cookScript resolves the script path inside the bundle directory. A
// leading "./" is relative to the directory of the defining file.
func cookScript(stackDir string, proto *Prototype, action *Action, sub *SubAction) string {
	script := action.Script
	if sub != nil {
		script = sub.Script
	}
	if strings.HasPrefix(script, "./") {
		return filepath.Join(stackDir, proto.Path, script[2:])
	}
	return filepath.Join(stackDir, script)
}

// ansibleConfig renders the ansible.cfg of a job.
func ansibleConfig(cfg TaskConfig, params map[string]interface{}) []byte {
	defaults := map[string]string{
		"stdout_callback":    "yaml",
		"callback_whitelist": "profile_tasks",
		"forks":              fmt.Sprint(cfg.AnsibleForks),
	}
	if v, ok := params["jinja2_native"]; ok {
		defaults["jinja2_native"] = pythonBool(v)
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteString("[defaults]\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, defaults[k])
	}
	return b.Bytes()
}

func pythonBool(v interface{}) string {
	switch b := v.(type) {
	case bool:
		if b {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}
