package explorer

import (
	"fmt"
	"log"
)

// logTaskPanic reports a panic recovered from a task, falling back to the
// standard logger if no logger is configured, or the logger itself panics.
func (x *Executor) logTaskPanic(err *TaskError) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: %v (logger panicked: %v)", err, r)
		}
	}()
	b := x.logger.Err()
	if !b.Enabled() {
		log.Printf("ERROR: %v", err)
		return
	}
	b.Err(err).
		Int(`track`, err.Track).
		Uint64(`seq`, err.Sequence).
		Log(`explorer: task panicked`)
}

func (x *Executor) logStall(info StallInfo) {
	x.logger.Warning().
		Int(`track`, info.Track).
		Uint64(`seq`, info.Sequence).
		Dur(`elapsed`, info.Elapsed).
		Log(`explorer: task stalled`)
}

// safeCall runs a user callback, recovering and logging any panic.
func (x *Executor) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if b := x.logger.Err(); b.Enabled() {
				b.Str(`callback`, what).
					Str(`panic`, fmt.Sprint(r)).
					Log(`explorer: callback panicked`)
			} else {
				log.Printf("ERROR: explorer: %s panicked: %v", what, r)
			}
		}
	}()
	fn()
}
