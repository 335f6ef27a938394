package workerpool

import (
	"sync"

	"github.com/apprun/core/internal/workermsg"
)

// fakeProcess is an in-memory WorkerProcess used by every test in this
// package: it never spawns a real subprocess, and lets tests script
// exactly what the "worker" sends back.
type fakeProcess struct {
	mu       sync.Mutex
	sent     []workermsg.Message
	recvCh   chan workermsg.Message
	errCh    chan error
	killed   bool
	onSend   func(m workermsg.Message) // optional hook, e.g. auto-reply
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		recvCh: make(chan workermsg.Message, 16),
		errCh:  make(chan error, 16),
	}
}

func (f *fakeProcess) Send(m workermsg.Message) error {
	f.mu.Lock()
	f.sent = append(f.sent, m)
	hook := f.onSend
	f.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return nil
}

func (f *fakeProcess) Recv() <-chan workermsg.Message { return f.recvCh }
func (f *fakeProcess) Errs() <-chan error             { return f.errCh }

func (f *fakeProcess) Kill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeProcess) sentMessages() []workermsg.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]workermsg.Message, len(f.sent))
	copy(out, f.sent)
	return out
}

// fakeSpawner builds a ProcessSpawner that hands out fakeProcess instances,
// auto-replying READY immediately; any reply to a REQUEST comes from the
// behavior configure installs (echoSpawner adds the 200 echo).
func fakeSpawner(configure func(*fakeProcess)) ProcessSpawner {
	return func(appDir, entrypoint string, env map[string]string) (WorkerProcess, error) {
		p := newFakeProcess()
		if configure != nil {
			configure(p)
		}
		p.recvCh <- workermsg.Ready()
		return p, nil
	}
}

// echoSpawner is the common case: READY immediately, then every REQUEST
// gets a 200 OK response carrying the same body back.
func echoSpawner() ProcessSpawner {
	return fakeSpawner(func(p *fakeProcess) {
		p.onSend = func(m workermsg.Message) {
			if m.Type == workermsg.TypeRequest {
				p.recvCh <- workermsg.NewResponse(m.ReqID, workermsg.Response{
					Status:  200,
					Headers: map[string]string{"content-type": "text/plain"},
					Body:    m.Req.Body,
				})
			}
		}
	})
}
