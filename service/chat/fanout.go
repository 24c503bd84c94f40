package chat

import (
	"go.uber.org/zap"

	"ChatSync/logger"
)

type fanoutJob struct {
	conns   []*Client
	payload []byte
}

// Fanout is a small worker pool that delivers one payload to many sessions.
// Per-session delivery is a non-blocking enqueue: a stalled client drops its
// own copy and never holds up the rest of the room.
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 256
	}
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					if !c.Enqueue(job.payload) {
						logger.Warn("send queue full, dropping event",
							zap.String("connId", c.ConnID))
					}
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

func (f *Fanout) Close() { close(f.jobs) }
