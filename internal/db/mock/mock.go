// Package mock provides a testify mock of db.Connector.
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"mongo-query-top/internal/db"
	"mongo-query-top/internal/query"
)

type Connector struct {
	mock.Mock
}

var _ db.Connector = (*Connector)(nil)

func (m *Connector) CurrentOp(ctx context.Context, filter db.Filter) ([]query.Operation, error) {
	args := m.Called(ctx, filter)
	ops, _ := args.Get(0).([]query.Operation)
	return ops, args.Error(1)
}

func (m *Connector) ServerStatus(ctx context.Context) (db.ServerStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(db.ServerStatus), args.Error(1)
}

func (m *Connector) KillOp(ctx context.Context, opid int64) (query.Document, error) {
	args := m.Called(ctx, opid)
	doc, _ := args.Get(0).(query.Document)
	return doc, args.Error(1)
}

func (m *Connector) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
