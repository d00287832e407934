package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

// ListVotes scans the whole vote table. It is small: one row per (merchant, category).
func (s *Store) ListVotes(ctx context.Context) ([]model.MerchantVote, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.VotesTableName)}
	var out []model.MerchantVote
	for {
		result, err := s.Client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan votes: %w", remote.Classify(err))
		}
		var page []model.MerchantVote
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal votes: %w", err)
		}
		out = append(out, page...)
		if len(result.LastEvaluatedKey) == 0 {
			return out, nil
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
}

// IncrementVote uses ADD so concurrent voters accumulate instead of overwriting.
func (s *Store) IncrementVote(ctx context.Context, vote model.MerchantVote) error {
	nowAV, err := attributevalue.Marshal(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to marshal vote timestamp: %w", err)
	}
	update := "ADD votes :one SET merchant_key = :key, merchant_name = if_not_exists(merchant_name, :name), category_id = :category, last_voted = :now"
	values := map[string]types.AttributeValue{
		":one":      &types.AttributeValueMemberN{Value: "1"},
		":key":      &types.AttributeValueMemberS{Value: vote.MerchantKey},
		":name":     &types.AttributeValueMemberS{Value: vote.MerchantName},
		":category": &types.AttributeValueMemberS{Value: vote.CategoryID},
		":now":      nowAV,
	}
	if vote.UserID != "" {
		update += ", user_id = :user_id"
		values[":user_id"] = &types.AttributeValueMemberS{Value: vote.UserID}
	}

	_, err = s.Client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.VotesTableName),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: model.VoteID(vote.MerchantKey, vote.CategoryID)},
		},
		UpdateExpression:          aws.String(update),
		ExpressionAttributeValues: values,
	})
	if err != nil {
		return fmt.Errorf("failed to increment vote: %w", remote.Classify(err))
	}
	return nil
}
