package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize  = 256
	defaultJobTimeout = 10 * time.Second
)

type job struct {
	kind string
	key  string
	run  func(ctx context.Context) error
}

// Dispatcher runs sink deliveries on a background worker. Enqueueing never
// blocks the caller: when the queue is full the job is dropped and logged.
type Dispatcher struct {
	Email   EmailSink
	Chat    ChatSink
	Timeout time.Duration
	Log     *slog.Logger

	queue chan job
	wg    sync.WaitGroup
	once  sync.Once
}

func NewDispatcher(email EmailSink, chat ChatSink, queueSize int, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	if email == nil {
		email = LogEmailSink{Log: log}
	}
	if chat == nil {
		chat = LogChatSink{Log: log}
	}
	return &Dispatcher{
		Email:   email,
		Chat:    chat,
		Timeout: timeout,
		Log:     logger(log),
		queue:   make(chan job, queueSize),
	}
}

// Start launches the worker. It exits when Close is called and the queue drains.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for j := range d.queue {
			d.runJob(j)
		}
	}()
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) runJob(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.Log.Error("notification panicked", "kind", j.kind, "key", j.key, "panic", r)
		}
	}()
	if err := j.run(ctx); err != nil {
		d.Log.Warn("notification failed", "kind", j.kind, "key", j.key, "err", err)
	}
}

func (d *Dispatcher) enqueue(j job) bool {
	if d == nil {
		return false
	}
	defer func() {
		// send on a closed queue after shutdown
		if recover() != nil {
			d.Log.Warn("notification dropped after close", "kind", j.kind, "key", j.key)
		}
	}()
	select {
	case d.queue <- j:
		return true
	default:
		d.Log.Warn("notification queue full", "kind", j.kind, "key", j.key)
		return false
	}
}

// SendEmail queues an email. It reports whether the job was accepted.
func (d *Dispatcher) SendEmail(msg EmailMessage) bool {
	return d.enqueue(job{kind: "email", key: msg.To, run: func(ctx context.Context) error {
		_, err := d.Email.Send(ctx, msg)
		return err
	}})
}

// PostChat queues a chat message; done, when set, receives the thread reference.
func (d *Dispatcher) PostChat(msg ChatMessage, done func(threadRef string)) bool {
	return d.enqueue(job{kind: "chat", key: msg.ThreadRef, run: func(ctx context.Context) error {
		ref, err := d.Chat.Post(ctx, msg)
		if err != nil {
			return err
		}
		if done != nil {
			done(ref)
		}
		return nil
	}})
}
