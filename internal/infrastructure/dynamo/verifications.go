package dynamo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/portrait-api/internal/domain"
)

// VerificationRepo manages one-time codes.
// PK: identity_key ("phone:+91..." | "email:a@b.c")
type VerificationRepo struct {
	client    API
	tableName string
}

func NewVerificationRepo(client API, tableName string) *VerificationRepo {
	return &VerificationRepo{client: client, tableName: tableName}
}

// Put replaces any active code for the identity.
func (r *VerificationRepo) Put(ctx context.Context, v *domain.VerificationRecord) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put verification: %w", err)
	}
	return nil
}

func (r *VerificationRepo) Get(ctx context.Context, identityKey string) (*domain.VerificationRecord, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            strKey(fieldIdentityKey, identityKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("verification not found: %w", domain.ErrNotFound)
	}
	var v domain.VerificationRecord
	if err := attributevalue.UnmarshalMap(out.Item, &v); err != nil {
		return nil, fmt.Errorf("unmarshal verification: %w", err)
	}
	return &v, nil
}

// IncrementAttempts atomically bumps the attempt counter while it is below
// max and returns the new value. At the limit it returns ErrTooManyAttempts.
func (r *VerificationRepo) IncrementAttempts(ctx context.Context, identityKey string, max int) (int, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey(fieldIdentityKey, identityKey),
		UpdateExpression:         aws.String("SET #a = if_not_exists(#a, :zero) + :one"),
		ConditionExpression:      aws.String("attribute_exists(identity_key) AND (attribute_not_exists(#a) OR #a < :max)"),
		ExpressionAttributeNames: map[string]string{"#a": fieldAttempts},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":one":  &types.AttributeValueMemberN{Value: "1"},
			":max":  &types.AttributeValueMemberN{Value: strconv.Itoa(max)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, fmt.Errorf("verification %s: %w", identityKey, domain.ErrTooManyAttempts)
		}
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	var n int
	if av, ok := out.Attributes[fieldAttempts]; ok {
		if err := attributevalue.Unmarshal(av, &n); err != nil {
			return 0, fmt.Errorf("unmarshal attempts: %w", err)
		}
	}
	return n, nil
}

// MarkVerified consumes the code. Only one caller can consume it; the others,
// and callers whose code is gone, get ErrUnauthorized.
func (r *VerificationRepo) MarkVerified(ctx context.Context, identityKey string) error {
	ue, err := buildUpdateExpr(map[string]interface{}{fieldVerified: true})
	if err != nil {
		return err
	}
	ue.Names["#vf"] = fieldVerified
	ue.Values[":false"] = &types.AttributeValueMemberBOOL{Value: false}
	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.tableName),
		Key:                       strKey(fieldIdentityKey, identityKey),
		UpdateExpression:          aws.String(ue.Expr),
		ConditionExpression:       aws.String("attribute_exists(identity_key) AND (attribute_not_exists(#vf) OR #vf = :false)"),
		ExpressionAttributeNames:  ue.Names,
		ExpressionAttributeValues: ue.Values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("code already used: %w", domain.ErrUnauthorized)
		}
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

func (r *VerificationRepo) Delete(ctx context.Context, identityKey string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       strKey(fieldIdentityKey, identityKey),
	})
	if err != nil {
		return fmt.Errorf("delete verification: %w", err)
	}
	return nil
}
