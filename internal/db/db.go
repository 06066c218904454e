// Package db talks to the monitored MongoDB deployment.
package db

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"mongo-query-top/internal/logging"
	"mongo-query-top/internal/query"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectTimeout = 10 * time.Second
	appName           = "mongo-query-top"
)

// Filter narrows the currentOp listing on the server side.
type Filter struct {
	// IP only lists operations from this client address.
	IP string
}

type Connections struct {
	Current      int64 `bson:"current" json:"current"`
	Available    int64 `bson:"available" json:"available"`
	TotalCreated int64 `bson:"totalCreated" json:"totalCreated"`
}

type ServerStatus struct {
	Host        string      `bson:"host" json:"host"`
	Version     string      `bson:"version" json:"version"`
	Uptime      float64     `bson:"uptime" json:"uptime"`
	Connections Connections `bson:"connections" json:"connections"`
}

// Connector is everything the dashboard needs from the database.
type Connector interface {
	CurrentOp(ctx context.Context, filter Filter) ([]query.Operation, error)
	ServerStatus(ctx context.Context) (ServerStatus, error)
	KillOp(ctx context.Context, opid int64) (query.Document, error)
	Close(ctx context.Context) error
}

type DB struct {
	client *mongo.Client
	admin  *mongo.Database

	closeOnce sync.Once
	closeErr  error
}

var _ Connector = (*DB)(nil)

// Connect opens a client for uri and pings the deployment, so a bad URI or
// an unreachable server fails here rather than on the first poll.
func Connect(ctx context.Context, uri string) (*DB, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetAppName(appName).
		SetConnectTimeout(connectTimeout).
		SetServerSelectionTimeout(connectTimeout)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect to MongoDB")
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "cannot reach MongoDB")
	}
	logging.Logger.Debug("Connected to MongoDB")

	return &DB{client: client, admin: client.Database("admin")}, nil
}

type currentOpResult struct {
	Inprog []bson.Raw `bson:"inprog"`
}

func currentOpCommand(filter Filter) bson.D {
	cmd := bson.D{{Key: "currentOp", Value: 1}}
	if filter.IP != "" {
		cmd = append(cmd, bson.E{Key: "client", Value: bson.D{
			{Key: "$regex", Value: "^" + regexp.QuoteMeta(filter.IP) + ":"},
		}})
	}
	return cmd
}

func (m *DB) CurrentOp(ctx context.Context, filter Filter) ([]query.Operation, error) {
	var res currentOpResult
	if err := m.admin.RunCommand(ctx, currentOpCommand(filter)).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "cannot run currentOp")
	}
	return query.DecodeAll(res.Inprog), nil
}

func (m *DB) ServerStatus(ctx context.Context) (ServerStatus, error) {
	ss := ServerStatus{}
	if err := m.admin.RunCommand(ctx, bson.D{{Key: "serverStatus", Value: 1}}).Decode(&ss); err != nil {
		return ss, errors.Wrap(err, "cannot get server status")
	}
	return ss, nil
}

func (m *DB) KillOp(ctx context.Context, opid int64) (query.Document, error) {
	raw, err := m.admin.RunCommand(ctx, bson.D{
		{Key: "killOp", Value: 1},
		{Key: "op", Value: opid},
	}).Raw()
	if err != nil {
		return nil, errors.Wrapf(err, "cannot kill operation %d", opid)
	}
	return query.ToDocument(raw)
}

// Close disconnects, giving in-flight commands a bounded amount of time.
// Only the first call disconnects.
func (m *DB) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
		defer cancel()
		m.closeErr = m.client.Disconnect(ctx)
	})
	return m.closeErr
}
