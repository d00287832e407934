package dynamodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

const ownedCondition = "attribute_exists(id) AND user_id = :user_id"

// CreateTransaction puts the transaction only when its id is unused.
func (s *Store) CreateTransaction(ctx context.Context, tx model.Transaction) error {
	item, err := attributevalue.MarshalMap(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.TransactionsTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return fmt.Errorf("create transaction %s: %w", tx.ID, remote.ErrDuplicateID)
		}
		return fmt.Errorf("failed to create transaction: %w", remote.Classify(err))
	}
	return nil
}

// UpdateTransaction replaces an existing transaction owned by the same user.
func (s *Store) UpdateTransaction(ctx context.Context, tx model.Transaction) error {
	item, err := attributevalue.MarshalMap(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}
	_, err = s.Client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.TransactionsTableName),
		Item:                item,
		ConditionExpression: aws.String(ownedCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: tx.UserID},
		},
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return fmt.Errorf("update transaction %s: %w", tx.ID, remote.ErrNotFound)
		}
		return fmt.Errorf("failed to update transaction: %w", remote.Classify(err))
	}
	return nil
}

// DeleteTransaction removes a transaction. A missing item surfaces as remote.ErrNotFound.
func (s *Store) DeleteTransaction(ctx context.Context, userID, id string) error {
	_, err := s.Client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.TransactionsTableName),
		Key:                 map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}},
		ConditionExpression: aws.String(ownedCondition),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		var condCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condCheckFailed) {
			return fmt.Errorf("delete transaction %s: %w", id, remote.ErrNotFound)
		}
		return fmt.Errorf("failed to delete transaction: %w", remote.Classify(err))
	}
	return nil
}

// ListTransactions queries the user/date index. The batch id is applied as a filter.
func (s *Store) ListTransactions(ctx context.Context, q remote.TransactionQuery) (remote.TransactionPage, error) {
	if strings.TrimSpace(q.UserID) == "" {
		return remote.TransactionPage{}, errors.New("list transactions: user id required")
	}
	input := &dynamodb.QueryInput{
		TableName:                aws.String(s.TransactionsTableName),
		IndexName:                aws.String(userDateIndex),
		ExpressionAttributeNames: map[string]string{"#date": "date"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: q.UserID},
		},
		ScanIndexForward: aws.Bool(!q.Descending),
	}

	keyCond := "user_id = :user_id"
	switch {
	case !q.From.IsZero() && !q.To.IsZero():
		keyCond += " AND #date BETWEEN :from AND :to"
		input.ExpressionAttributeValues[":from"] = &types.AttributeValueMemberS{Value: q.From.UTC().Format(time.RFC3339)}
		input.ExpressionAttributeValues[":to"] = &types.AttributeValueMemberS{Value: q.To.UTC().Format(time.RFC3339)}
	case !q.From.IsZero():
		keyCond += " AND #date >= :from"
		input.ExpressionAttributeValues[":from"] = &types.AttributeValueMemberS{Value: q.From.UTC().Format(time.RFC3339)}
	case !q.To.IsZero():
		keyCond += " AND #date <= :to"
		input.ExpressionAttributeValues[":to"] = &types.AttributeValueMemberS{Value: q.To.UTC().Format(time.RFC3339)}
	default:
		input.ExpressionAttributeNames = nil
	}
	input.KeyConditionExpression = aws.String(keyCond)

	if q.ImportBatchID != "" {
		input.FilterExpression = aws.String("import_batch_id = :batch")
		input.ExpressionAttributeValues[":batch"] = &types.AttributeValueMemberS{Value: q.ImportBatchID}
	}
	if q.Limit > 0 {
		input.Limit = aws.Int32(q.Limit)
	}
	if q.Cursor != "" {
		start, err := decodeCursor(q.Cursor)
		if err != nil {
			return remote.TransactionPage{}, err
		}
		input.ExclusiveStartKey = start
	}

	result, err := s.Client.Query(ctx, input)
	if err != nil {
		return remote.TransactionPage{}, fmt.Errorf("failed to query transactions: %w", remote.Classify(err))
	}

	var page remote.TransactionPage
	if err := attributevalue.UnmarshalListOfMaps(result.Items, &page.Items); err != nil {
		return remote.TransactionPage{}, fmt.Errorf("failed to unmarshal transactions: %w", err)
	}
	if len(result.LastEvaluatedKey) > 0 {
		cursor, err := encodeCursor(result.LastEvaluatedKey)
		if err != nil {
			return remote.TransactionPage{}, err
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// CountTransactions walks the user index with Select COUNT.
func (s *Store) CountTransactions(ctx context.Context, userID string) (int, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.TransactionsTableName),
		IndexName:              aws.String(userDateIndex),
		KeyConditionExpression: aws.String("user_id = :user_id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":user_id": &types.AttributeValueMemberS{Value: userID},
		},
		Select: types.SelectCount,
	}
	total := 0
	for {
		result, err := s.Client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("failed to count transactions: %w", remote.Classify(err))
		}
		total += int(result.Count)
		if len(result.LastEvaluatedKey) == 0 {
			return total, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	var plain map[string]string
	if err := attributevalue.UnmarshalMap(key, &plain); err != nil {
		return "", fmt.Errorf("failed to unmarshal cursor key: %w", err)
	}
	raw, err := json.Marshal(plain)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}
	var plain map[string]string
	if err := json.Unmarshal(raw, &plain); err != nil {
		return nil, fmt.Errorf("failed to decode cursor: %w", err)
	}
	key, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cursor key: %w", err)
	}
	return key, nil
}
