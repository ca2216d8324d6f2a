package pipeline

import "github.com/keagan/reelcut/internal/session"

// OnLoop runs s on the session loop and blocks until it has run. Use it when
// Render is called off the loop goroutine.
func OnLoop(disp session.Dispatcher, s Suspender) Suspender {
	return loopSuspender{disp: disp, s: s}
}

type loopSuspender struct {
	disp session.Dispatcher
	s    Suspender
}

func (l loopSuspender) Suspend() func() {
	var restore func()
	l.call(func() { restore = l.s.Suspend() })
	return func() { l.call(restore) }
}

func (l loopSuspender) call(fn func()) {
	done := make(chan struct{})
	l.disp.Post(func() {
		defer close(done)
		fn()
	})
	<-done
}
