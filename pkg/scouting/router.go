package scouting

import (
	"github.com/unijord/l1scouting/pkg/frd"
)

// FileRotator is the part of the output writer the router drives.
type FileRotator interface {
	OpenFile(lumisection uint32) error
	Finalize() error
}

// LumisectionRouter opens a file for the first orbit of the run and rotates
// to a new file whenever an orbit belongs to a later lumisection.
type LumisectionRouter struct {
	out     FileRotator
	started bool
	active  uint32
}

// NewLumisectionRouter returns a router driving out.
func NewLumisectionRouter(out FileRotator) *LumisectionRouter {
	return &LumisectionRouter{out: out}
}

// Route is called once per newly opened orbit. The previous orbit must already
// have been flushed to the current file.
func (r *LumisectionRouter) Route(orbitID int32) error {
	ls := frd.LumisectionOf(uint32(orbitID))
	if !r.started {
		if err := r.out.OpenFile(ls); err != nil {
			return err
		}
		r.started = true
		r.active = ls
		return nil
	}
	if ls <= r.active {
		return nil
	}
	if err := r.out.Finalize(); err != nil {
		return err
	}
	if err := r.out.OpenFile(ls); err != nil {
		return err
	}
	r.active = ls
	return nil
}

// Active returns the current lumisection and whether any was opened.
func (r *LumisectionRouter) Active() (uint32, bool) {
	return r.active, r.started
}
