package database

import (
	"os/exec"
	"sync"

	"github.com/glorpus-work/pakt/pkg/fsutil"
)

// Liveness answers whether an application instance is currently running. It
// is consulted before a version's tree is deleted.
type Liveness interface {
	Running(appID string) bool
}

// livenessCandidates are the probe commands tried in order; the first one
// found on the search path is used. The command takes an application-instance
// identifier and exits zero iff that instance is running.
var livenessCandidates = []string{"pakt-app-pid", "upstart-app-pid"}

// ExecLiveness probes a running-instance command once and caches the result
// on the instance. With no probe command installed, nothing is ever
// considered running.
type ExecLiveness struct {
	once    sync.Once
	command string
}

// NewExecLiveness returns an ExecLiveness with a lazy probe.
func NewExecLiveness() *ExecLiveness {
	return &ExecLiveness{}
}

// Running reports whether appID has a live instance.
func (l *ExecLiveness) Running(appID string) bool {
	l.once.Do(func() {
		for _, candidate := range livenessCandidates {
			if fsutil.FindOnPath(candidate) {
				l.command = candidate
				return
			}
		}
	})
	if l.command == "" {
		return false
	}
	return exec.Command(l.command, appID).Run() == nil
}
