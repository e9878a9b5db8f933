package mongodb

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Handler stores run results published on msg.Result, one document per sender.
type Handler struct {
	mux    *sync.Mutex
	inbox  <-chan msg.Msg
	pid    uuid.UUID
	config config
	stop   chan bool
	done   chan struct{}
}

type config struct {
	URI        string `json:"URI"`
	Database   string `json:"Database"`
	Port       string `json:"Port"`
	Collection string `json:"Collection"`
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
	if cfg.Collection == "" {
		cfg.Collection = "plans"
	}

	pid, _ := uuid.NewUUID()

	inbox := make(chan msg.Msg, 50)

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

func (h Handler) PID() uuid.UUID {
	return h.pid
}

// URI is the connection string of the configured server.
func (h Handler) URI() string {
	if h.config.Port == "" {
		return h.config.URI
	}
	return h.config.URI + ":" + h.config.Port
}

func msgToBSON(m msg.Msg, at time.Time) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.M{
			"pid":   m.PID().String(),
			"topic": m.Topic().String(),
			"data":  m.Payload(),
			"saved": at,
		}},
	}
}

func (h *Handler) StopProcess() {
	h.stop <- true
	<-h.done
}

// Store upserts one message into the result collection.
func (h Handler) Store(ctx context.Context, coll *mongo.Collection, m msg.Msg) error {
	opts := options.Update().SetUpsert(true)
	_, err := coll.UpdateOne(ctx, bson.M{"pid": m.PID().String()}, msgToBSON(m, time.Now().UTC()), opts)
	if err != nil {
		return fmt.Errorf("store %s: %w", m.PID(), err)
	}
	return nil
}

func (h Handler) Process() {
	defer close(h.done)
	ctx := context.Background()
	connectCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(h.URI()))
	if err != nil {
		log.Println("[Mongo]", err)
		<-h.stop
		return
	}
	defer client.Disconnect(ctx)

	coll := client.Database(h.config.Database).Collection(h.config.Collection)
	log.Printf("[Mongo] storing results in %s.%s\n", h.config.Database, h.config.Collection)
loop:
	for {
		select {
		case m := <-h.inbox:
			if err := h.Store(ctx, coll, m); err != nil {
				log.Println("[Mongo]", err)
			}
		case <-h.stop:
			for {
				select {
				case m := <-h.inbox:
					if err := h.Store(ctx, coll, m); err != nil {
						log.Println("[Mongo]", err)
					}
				default:
					break loop
				}
			}
		}
	}
	log.Println("[Mongo] Process Shutdown")
}
