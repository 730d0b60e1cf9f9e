package engine

import (
	"context"
	"errors"
)

// ErrAlreadyExists is returned by stores when a unique key is taken.
var ErrAlreadyExists = errors.New("already exists")

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("not found")

// PrototypeFilter selects catalog prototypes. Zero fields match anything.
type PrototypeFilter struct {
	BundleID    int64
	Type        ObjectType
	Name        string
	Version     string
	ParentID    *int64
	LicenseHash string
}

// ObjectFilter selects live objects. Zero fields match anything.
type ObjectFilter struct {
	Type         ObjectType
	PrototypeIDs []int64
}

// CatalogReader reads committed definitions.
type CatalogReader interface {
	GetBundle(ctx context.Context, id int64) (*Bundle, error)
	FindBundle(ctx context.Context, name, version, edition string) (*Bundle, error)
	FindBundleByHash(ctx context.Context, hash string) (*Bundle, error)
	ListBundles(ctx context.Context) ([]*Bundle, error)

	GetPrototype(ctx context.Context, id int64) (*Prototype, error)
	ListPrototypes(ctx context.Context, filter PrototypeFilter) ([]*Prototype, error)

	GetAction(ctx context.Context, id int64) (*Action, error)
	FindAction(ctx context.Context, prototypeID int64, name string) (*Action, error)
	ListActions(ctx context.Context, prototypeID int64) ([]*Action, error)
	GetSubAction(ctx context.Context, id int64) (*SubAction, error)
	ListSubActions(ctx context.Context, actionID int64) ([]*SubAction, error)

	ListConfigs(ctx context.Context, prototypeID int64, actionID *int64) ([]*PrototypeConfig, error)
	ListExports(ctx context.Context, prototypeID int64) ([]*PrototypeExport, error)
	ListImports(ctx context.Context, prototypeID int64) ([]*PrototypeImport, error)
	ListUpgrades(ctx context.Context, bundleID int64) ([]*Upgrade, error)
}

// CatalogWriter mutates definitions. It is only handed out inside a transaction.
type CatalogWriter interface {
	CreateBundle(ctx context.Context, b *Bundle) error
	UpdateBundle(ctx context.Context, b *Bundle) error
	DeleteBundle(ctx context.Context, id int64) error
	SetBundleVersionOrder(ctx context.Context, id int64, order int) error

	CreatePrototype(ctx context.Context, p *Prototype) error
	UpdatePrototype(ctx context.Context, p *Prototype) error
	SetPrototypeVersionOrder(ctx context.Context, id int64, order int) error

	CreateAction(ctx context.Context, a *Action) error
	UpdateAction(ctx context.Context, a *Action) error
	CreateSubAction(ctx context.Context, s *SubAction) error
	DeleteSubActions(ctx context.Context, actionID int64) error

	CreateConfig(ctx context.Context, c *PrototypeConfig) error
	UpdateConfig(ctx context.Context, c *PrototypeConfig) error

	CreateExport(ctx context.Context, e *PrototypeExport) error
	DeleteExports(ctx context.Context, prototypeID int64) error
	CreateImport(ctx context.Context, i *PrototypeImport) error
	DeleteImports(ctx context.Context, prototypeID int64) error

	CreateUpgrade(ctx context.Context, u *Upgrade) error
	DeleteUpgrades(ctx context.Context, bundleID int64) error
}

// ObjectStore persists live objects.
type ObjectStore interface {
	GetObject(ctx context.Context, objType ObjectType, id int64) (*Object, error)
	ListObjects(ctx context.Context, filter ObjectFilter) ([]*Object, error)
	CreateObject(ctx context.Context, o *Object) error
	UpdateObject(ctx context.Context, o *Object) error
}

// CatalogTx is the view of the store inside one transaction.
type CatalogTx interface {
	CatalogReader
	CatalogWriter
	ObjectStore
}

// CatalogStore runs catalog transactions.
type CatalogStore interface {
	CatalogReader
	ObjectStore

	// InTx runs fn in a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(tx CatalogTx) error) error
}

// TaskStore persists tasks, jobs and their logs.
type TaskStore interface {
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, id int64) (*Task, error)
	UpdateTask(ctx context.Context, t *Task) error
	ListTasks(ctx context.Context, statuses ...JobStatus) ([]*Task, error)

	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id int64) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
	ListJobs(ctx context.Context, taskID int64) ([]*Job, error)

	CreateLog(ctx context.Context, l *LogStorage) error
	ListLogs(ctx context.Context, jobID int64) ([]*LogStorage, error)
	UpdateLogBody(ctx context.Context, id int64, body string) error
}

// Store is everything the task engine persists.
type Store interface {
	CatalogStore
	TaskStore
}

// EventPoster delivers lifecycle notifications to subscribers.
type EventPoster interface {
	PostEvent(ctx context.Context, kind string, objectType string, objectID int64, details map[string]interface{})
}

// NopEventPoster drops every event.
type NopEventPoster struct{}

// PostEvent implements EventPoster.
func (NopEventPoster) PostEvent(context.Context, string, string, int64, map[string]interface{}) {}
