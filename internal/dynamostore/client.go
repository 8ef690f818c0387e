// Package dynamostore keeps irrigation events in a DynamoDB table.
//
// Table layout:
//   - PK: id (string). Schedule events use "sched#<scheduleID>#<date>" so a
//     conditional put rejects a second event for the same schedule and date.
//   - GSI block_date: block_id (hash), date (range, YYYY-MM-DD).
package dynamostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	DefaultTable     = "irrigation_events"
	BlockDateIndex   = "block_date"
	defaultRegion    = "us-east-1"
	localCredentials = "local"
)

// Config selects the table and, for local development, a DynamoDB endpoint.
type Config struct {
	Region          string
	Endpoint        string // e.g. http://localhost:8000
	Table           string
	AccessKeyID     string
	SecretAccessKey string
}

// Connect builds a DynamoDB client from cfg. Static credentials are used when
// an endpoint or explicit keys are given; otherwise the default chain applies.
func Connect(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if cfg.Endpoint != "" || cfg.AccessKeyID != "" {
		key, secret := cfg.AccessKeyID, cfg.SecretAccessKey
		if key == "" {
			// local DynamoDB ignores credentials but the SDK still requires them
			key, secret = localCredentials, localCredentials
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// TableCreator is the subset of the client EnsureTable needs.
type TableCreator interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// EnsureTable creates the events table and its block_date index when missing.
// Returns true if the table was created.
func EnsureTable(ctx context.Context, api TableCreator, table string) (bool, error) {
	if table == "" {
		table = DefaultTable
	}
	_, err := api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("block_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("date"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String(BlockDateIndex),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("block_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("date"), KeyType: types.KeyTypeRange},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		}},
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return false, nil
		}
		return false, fmt.Errorf("create table %s: %w", table, err)
	}
	return true, nil
}
