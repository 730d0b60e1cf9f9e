package bundle

import (
	"sync"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/staging"
)

// CompileSession owns the staging area for one compile. Only one session
// per Loader can be open at a time.
type CompileSession struct {
	area    *staging.Area
	release func()
	once    sync.Once
}

// Area returns the staging tables of the session.
func (s *CompileSession) Area() *staging.Area {
	return s.area
}

// Close empties the staging area and frees the loader for the next compile.
// It is safe to call more than once.
func (s *CompileSession) Close() {
	s.once.Do(func() {
		s.area.Clear()
		s.release()
	})
}

// NewSession opens a compile session. It fails with BUNDLE_ERROR when
// another compile holds the staging area.
func (l *Loader) NewSession() (*CompileSession, error) {
	select {
	case l.token <- struct{}{}:
	default:
		return nil, engine.NewError(engine.ErrCodeBundle, "Stage is not empty")
	}
	if !l.area.IsEmpty() {
		l.logger.Warn().Msg("Staging area left over from a previous compile, clearing")
		l.area.Clear()
	}
	return &CompileSession{
		area:    l.area,
		release: func() { <-l.token },
	}, nil
}
