package databases

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
)

// go generate: mockery --name TxnRunner

// TxnRunner runs a function inside one mongo transaction. Every write issued
// through the callback's context commits atomically or not at all; this is the
// boundary the message-send commit relies on.
type TxnRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type txnRunner struct {
	client ClientHelper
}

// NewTxnRunner initializes a transaction runner backed by the provided client
func NewTxnRunner(client ClientHelper) TxnRunner {
	return &txnRunner{client: client}
}

func (r *txnRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}
