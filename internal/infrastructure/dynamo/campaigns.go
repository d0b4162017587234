package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/clinic-notify/internal/domain"
)

// CampaignRepo stores campaigns keyed by campaign_id.
type CampaignRepo struct {
	db        DB
	tableName string
}

func NewCampaignRepo(db DB, tableName string) *CampaignRepo {
	return &CampaignRepo{db: db, tableName: tableName}
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	return putNew(ctx, r.db, r.tableName, "campaign_id", item)
}

func (r *CampaignRepo) Get(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	c, err := getItem[domain.Campaign](ctx, r.db, r.tableName, strKey("campaign_id", campaignID))
	if err != nil {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, err)
	}
	return c, nil
}

func (r *CampaignRepo) Save(ctx context.Context, c *domain.Campaign, expectedVersion int64) error {
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	err = putVersioned(ctx, r.db, r.tableName, "campaign_id", item, expectedVersion)
	return versionedErr(err, "campaign", c.CampaignID)
}

func (r *CampaignRepo) Delete(ctx context.Context, campaignID string) error {
	_, err := r.db.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.tableName),
		Key:                      strKey("campaign_id", campaignID),
		ConditionExpression:      aws.String("attribute_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{"#pk": "campaign_id"},
	})
	if isConditionFailed(err) {
		return fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}
	return err
}

func (r *CampaignRepo) List(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error) {
	var (
		items []domain.Campaign
		err   error
	)
	if f.Status != "" {
		items, err = queryIndex[domain.Campaign](ctx, r.db, r.tableName, statusIndex, "status", string(f.Status))
	} else {
		items, err = scanAll[domain.Campaign](ctx, r.db, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	}
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	out := make([]domain.Campaign, 0, len(items))
	for _, c := range items {
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CampaignID < out[j].CampaignID })
	return out, nil
}
