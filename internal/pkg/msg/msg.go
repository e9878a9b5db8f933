package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic identifies a class of messages.
type Topic int

const (
	// Progress carries decomposition iteration reports.
	Progress Topic = iota
	// Result carries a finished plan outcome.
	Result
)

func (t Topic) String() string {
	switch t {
	case Progress:
		return "progress"
	case Result:
		return "result"
	}
	return "unknown"
}

// Publisher is an interface for objects that allow subscribtion to their events
type Publisher interface {
	PID() uuid.UUID
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is a sender-tagged payload on one topic.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factor function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message topic
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

// subscriberBuffer is the depth of each subscriber channel. Publish drops messages for a
// subscriber whose buffer is full.
const subscriberBuffer = 32

// PubSub fans messages out to subscribers by topic.
type PubSub struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	subscribers map[Topic]map[uuid.UUID]chan Msg
	closed      bool
}

// NewPublisher returns a PubSub whose messages carry pid as sender.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:         &sync.Mutex{},
		pid:         pid,
		subscribers: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID returns the publisher's PID
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe registers pid on topic and returns the receive channel.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return nil, errors.New("publisher closed")
	}
	if p.subscribers[topic] == nil {
		p.subscribers[topic] = make(map[uuid.UUID]chan Msg)
	}
	if _, ok := p.subscribers[topic][pid]; ok {
		return nil, errors.New("already subscribed")
	}
	ch := make(chan Msg, subscriberBuffer)
	p.subscribers[topic][pid] = ch
	return ch, nil
}

// Unsubscribe removes pid from every topic and closes its channels.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		if ch, ok := subs[pid]; ok {
			close(ch)
			delete(subs, pid)
		}
	}
}

// Publish sends payload on topic to every subscriber without blocking.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.Forward(New(p.pid, topic, payload))
}

// Forward relays an existing message, keeping its original sender.
func (p *PubSub) Forward(m Msg) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.subscribers[m.topic] {
		select {
		case ch <- m:
		default:
		}
	}
}

// Close unsubscribes everyone. Later Subscribe calls fail.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		for pid, ch := range subs {
			close(ch)
			delete(subs, pid)
		}
	}
	p.closed = true
}
