package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

// GetBalance returns nil when the balance does not exist.
func (s *Store) GetBalance(ctx context.Context, id string) (*model.AccountBalanceDoc, error) {
	result, err := s.Client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.BalancesTableName),
		Key:       map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", remote.Classify(err))
	}
	if result.Item == nil {
		return nil, nil
	}
	var doc model.AccountBalanceDoc
	if err := attributevalue.UnmarshalMap(result.Item, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal balance: %w", err)
	}
	return &doc, nil
}

func (s *Store) PutBalance(ctx context.Context, doc model.AccountBalanceDoc) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal balance: %w", err)
	}
	if _, err := s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.BalancesTableName),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put balance: %w", remote.Classify(err))
	}
	return nil
}

func (s *Store) DeleteBalance(ctx context.Context, id string) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.BalancesTableName),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return fmt.Errorf("delete balance %s: %w", id, remote.ErrNotFound)
		}
		return fmt.Errorf("failed to delete balance: %w", remote.Classify(err))
	}
	return nil
}

func (s *Store) ListBalances(ctx context.Context, userID string) ([]model.AccountBalanceDoc, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.BalancesTableName),
		IndexName:              aws.String(userIndex),
		KeyConditionExpression: aws.String("user_id = :user_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: userID},
		},
	}
	var out []model.AccountBalanceDoc
	for {
		result, err := s.Client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query balances: %w", remote.Classify(err))
		}
		var page []model.AccountBalanceDoc
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal balances: %w", err)
		}
		out = append(out, page...)
		if len(result.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}
