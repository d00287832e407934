// Package dynamodb implements the remote store on AWS DynamoDB.
package dynamodb

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jask/budgetcore/internal/remote"
)

// DynamoDBAPI is the subset of the DynamoDB client the store calls.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

const (
	userDateIndex = "user_id-date-index"
	userIndex     = "user_id-index"
)

// Store implements remote.Store using DynamoDB tables.
type Store struct {
	Client                DynamoDBAPI
	TransactionsTableName string
	BalancesTableName     string
	VotesTableName        string
}

// New creates a Store. Every table name is required.
func New(client DynamoDBAPI, transactionsTable, balancesTable, votesTable string) (*Store, error) {
	if strings.TrimSpace(transactionsTable) == "" || strings.TrimSpace(balancesTable) == "" || strings.TrimSpace(votesTable) == "" {
		return nil, remote.ErrUnconfigured
	}
	return &Store{
		Client:                client,
		TransactionsTableName: transactionsTable,
		BalancesTableName:     balancesTable,
		VotesTableName:        votesTable,
	}, nil
}

// Make sure we conform to the interface
var _ remote.Store = (*Store)(nil)
