package data

import (
	"context"
	"time"

	"github.com/netcompare/transfer/common"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Results is the persistent archive of transfer reports, one document per
// completed transfer, queried by the reporting surface.
type Results interface {
	Save(report *common.TransferReport) error
	List(protocol string) ([]*common.TransferReport, error)
}

const resultsCollection = "reports"
const listLimit = 1000

type results struct {
	conn *Connection
	col  *mongo.Collection
}

func NewResults(conn *Connection, database string) (Results, error) {
	col := conn.client.Database(database).Collection(resultsCollection)

	r := &results{
		conn: conn,
		col:  col,
	}
	if err := r.setupIndices(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *results) context() context.Context {
	ctx, _ := context.WithTimeout(context.Background(), time.Second*30)
	return ctx
}

func (r *results) setupIndices() error {
	model := mongo.IndexModel{
		Keys: bson.D{{Key: "protocol", Value: 1}, {Key: "createdAt", Value: -1}},
	}
	_, err := r.col.Indexes().CreateOne(r.context(), model)
	return err
}

func (r *results) Save(report *common.TransferReport) error {
	_, err := r.col.InsertOne(r.context(), report)
	return err
}

func (r *results) List(protocol string) ([]*common.TransferReport, error) {
	filter := bson.M{}
	if len(protocol) > 0 {
		filter["protocol"] = protocol
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(listLimit)

	cursor, err := r.col.Find(r.context(), filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cursor.Close(r.context()) }()

	reports := make([]*common.TransferReport, 0)
	for cursor.Next(r.context()) {
		var report common.TransferReport
		if err := cursor.Decode(&report); err != nil {
			return nil, err
		}
		reports = append(reports, &report)
	}

	return reports, nil
}

var _ Results = &results{}
