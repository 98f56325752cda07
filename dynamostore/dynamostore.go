package dynamostore

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/jacentio/lockstore/entity"
	"github.com/jacentio/lockstore/store"
)

// API is the subset of *dynamodb.Client the backend uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Backend is a store.Backend on DynamoDB.
type Backend struct {
	client API
	config Config
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Backend = (*Backend)(nil)

// New creates a backend using the given client.
func New(client API, cfg Config) *Backend {
	cfg.validate()
	return &Backend{
		client: client,
		config: cfg,
		logger: cfg.Logger.With("backend", "dynamodb"),
		now:    time.Now,
	}
}

// Config returns the validated configuration.
func (b *Backend) Config() Config {
	return b.config
}

// Begin starts a transaction. Every transaction holds leases under its own
// owner id.
func (b *Backend) Begin(ctx context.Context) (store.Tx, error) {
	return &tx{
		b:      b,
		owner:  uuid.NewString(),
		writes: make(map[entity.Ref]*write),
		leases: make(map[entity.Ref]bool),
		verify: make(map[entity.Ref]int64),
	}, nil
}

// Close is a no-op; the client is owned by the caller.
func (b *Backend) Close() error {
	return nil
}
