package persistence

import "sync/atomic"

// state is the Orchestrator lifecycle spec §4.K fixes:
// Init -> Recovering -> Ready -> Closing -> Closed.
type state int32

const (
	stateInit state = iota
	stateRecovering
	stateReady
	stateClosing
	stateClosed
)

type stateMachine struct {
	v atomic.Int32
}

func newStateMachine() *stateMachine {
	sm := &stateMachine{}
	sm.v.Store(int32(stateInit))
	return sm
}

func (sm *stateMachine) set(s state) { sm.v.Store(int32(s)) }
func (sm *stateMachine) get() state  { return state(sm.v.Load()) }

func (sm *stateMachine) isReady() bool { return sm.get() == stateReady }
