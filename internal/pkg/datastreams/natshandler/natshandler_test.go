package natshandler

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	nats "github.com/nats-io/nats.go"
	"gotest.tools/v3/assert"
)

type progress struct {
	Iteration int
	Gap       float64
}

func TestSubject(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	h, err := New("./testdata/nats.json", pub)
	assert.NilError(t, err)

	m := msg.New(pub.PID(), msg.Progress, progress{1, 0.5})
	assert.Equal(t, h.Subject(m), "planning.progress."+pub.PID().String())
}

func TestClosedPublisher(t *testing.T) {
	pub := msg.NewPublisher(uuid.New())
	_, err := New("./testdata/nats.json", pub)
	assert.NilError(t, err)

	pub.Close()
	_, err = New("./testdata/nats.json", pub)
	assert.ErrorContains(t, err, "closed")
}

func TestNatsForwarding(t *testing.T) {
	nc, err := nats.Connect("nats://localhost:4222")
	if err != nil {
		t.Skip("no nats server available:", err)
	}
	defer nc.Close()

	pub := msg.NewPublisher(uuid.New())
	h, err := New("./testdata/nats.json", pub)
	assert.NilError(t, err)

	received := make(chan *nats.Msg, 1)
	sub, err := nc.ChanSubscribe("planning.progress.*", received)
	assert.NilError(t, err)
	defer sub.Unsubscribe()
	assert.NilError(t, nc.Flush())

	go h.Process()
	time.Sleep(100 * time.Millisecond)
	pub.Publish(msg.Progress, progress{Iteration: 2, Gap: 0.25})

	select {
	case m := <-received:
		got := progress{}
		assert.NilError(t, json.Unmarshal(m.Data, &got))
		assert.Equal(t, got.Iteration, 2)
		assert.Equal(t, m.Subject, h.Subject(msg.New(pub.PID(), msg.Progress, nil)))
	case <-time.After(2 * time.Second):
		t.Fatal("no message forwarded")
	}
	h.Stop()
}
