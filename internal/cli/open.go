package cli

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/lockstore/dynamostore"
	"github.com/jacentio/lockstore/internal/config"
	"github.com/jacentio/lockstore/sqlstore"
	"github.com/jacentio/lockstore/store"
)

// openBackend opens the configured backend.
func (o *options) openBackend(ctx context.Context) (store.Backend, error) {
	switch o.cfg.Backend {
	case config.BackendDynamoDB:
		client, err := dynamoClient(ctx, o.cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		return dynamostore.New(client, o.cfg.DynamoStore(o.logger)), nil
	default:
		b, err := sqlstore.Open(ctx, o.cfg.SQLStore(o.logger))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", o.cfg.Backend, err)
		}
		return b, nil
	}
}

// openStore opens the configured backend and wraps it in a Store.
func (o *options) openStore(ctx context.Context) (*store.Store, error) {
	b, err := o.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	return store.New(b, o.cfg.Store(o.logger)), nil
}

// dynamoClient builds a client from the default AWS credential chain.
func dynamoClient(ctx context.Context, cfg config.DynamoDB) (*dynamodb.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}
