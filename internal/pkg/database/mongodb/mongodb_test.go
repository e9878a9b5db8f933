package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gotest.tools/v3/assert"
)

type result struct {
	Objective float64
	Status    string
}

func TestGetConfig(t *testing.T) {
	h, err := New("./testdata/mongo.json", msg.NewPublisher(uuid.New()))
	assert.NilError(t, err)
	assert.Equal(t, h.URI(), "mongodb://localhost:27017")
	assert.Equal(t, h.config.Collection, "plans")
}

func TestMsgToBSON(t *testing.T) {
	pid := uuid.New()
	at := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	doc := msgToBSON(msg.New(pid, msg.Result, result{112, "optimal"}), at)

	assert.Equal(t, len(doc), 1)
	assert.Equal(t, doc[0].Key, "$set")
	set := doc[0].Value.(bson.M)
	assert.Equal(t, set["pid"], pid.String())
	assert.Equal(t, set["topic"], "result")
	assert.Equal(t, set["saved"], at)
}

func TestStoreResult(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://localhost:27017"))
	if err == nil {
		err = client.Ping(ctx, nil)
	}
	if err != nil {
		t.Skip("no mongodb available:", err)
	}
	defer client.Disconnect(context.Background())

	pub := msg.NewPublisher(uuid.New())
	h, err := New("./testdata/mongo.json", pub)
	assert.NilError(t, err)
	go h.Process()

	pub.Publish(msg.Result, result{112, "optimal"})
	time.Sleep(100 * time.Millisecond)
	h.StopProcess()

	coll := client.Database("gridplan_test").Collection("plans")
	var doc bson.M
	err = coll.FindOne(context.Background(), bson.M{"pid": pub.PID().String()}).Decode(&doc)
	assert.NilError(t, err)
	assert.Equal(t, doc["topic"], "result")
}
