package natshandler

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/msg"

	nats "github.com/nats-io/nats.go"
)

// Handler forwards run progress and results to a NATS server. Messages are published as
// JSON on <Prefix>.<topic>.<sender pid>.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
	done   chan struct{}
}

type config struct {
	Server string `json:"Server"`
	Prefix string `json:"Prefix"`
}

func (h Handler) PID() uuid.UUID {
	return h.pid
}

func redirectMsg(chIn <-chan msg.Msg, chOut chan<- msg.Msg) {
	for m := range chIn {
		chOut <- m
	}
}

func New(configPath string, system msg.Publisher) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}
	if cfg.Server == "" {
		cfg.Server = nats.DefaultURL
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "gridplan"
	}

	pid, _ := uuid.NewUUID()

	inbox := make(chan msg.Msg, 50)

	chProgress, err := system.Subscribe(pid, msg.Progress)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chProgress, inbox)

	chResult, err := system.Subscribe(pid, msg.Result)
	if err != nil {
		return Handler{}, err
	}
	go redirectMsg(chResult, inbox)

	return Handler{
		mux:    &sync.Mutex{},
		inbox:  inbox,
		pid:    pid,
		config: cfg,
		stop:   make(chan bool),
		done:   make(chan struct{}),
	}, nil
}

// Subject is the NATS subject of m.
func (h Handler) Subject(m msg.Msg) string {
	return fmt.Sprintf("%s.%s.%s", h.config.Prefix, m.Topic(), m.PID())
}

// Stop ends Process after the messages already queued are published.
func (h *Handler) Stop() {
	h.stop <- true
	<-h.done
}

func (h Handler) Process() {
	log.Println("[NATS client] Process Started")
	defer close(h.done)
	nc, err := nats.Connect(h.config.Server)
	if err != nil {
		log.Printf("[NATS client] unable to connect to %s: %v\n", h.config.Server, err)
		<-h.stop
		return
	}
	defer nc.Close()

	publish := func(m msg.Msg) {
		data, err := json.Marshal(m.Payload())
		if err != nil {
			log.Printf("[NATS client] unable to encode %s: %v\n", m.Topic(), err)
			return
		}
		if err = nc.Publish(h.Subject(m), data); err != nil {
			log.Printf("[NATS client] unable to publish to nats server: %v\n", err)
		}
	}

loop:
	for {
		select {
		case m := <-h.inbox:
			publish(m)
		case <-h.stop:
			for {
				select {
				case m := <-h.inbox:
					publish(m)
				default:
					break loop
				}
			}
		}
	}
	if err := nc.Flush(); err != nil {
		log.Printf("[NATS client] flush: %v\n", err)
	}
	log.Println("[NATS client] Process Shutdown")
}
