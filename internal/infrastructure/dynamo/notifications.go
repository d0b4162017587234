package dynamo

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/clinic-notify/internal/domain"
)

const (
	statusIndex    = "status-index"
	campaignIndex  = "campaign_id-index"
	recipientIndex = "recipient_id-index"
)

// NotificationRepo stores notifications keyed by notification_id. The
// recipient id is projected to a top-level attribute for the inbox index.
type NotificationRepo struct {
	db        DB
	tableName string
}

func NewNotificationRepo(db DB, tableName string) *NotificationRepo {
	return &NotificationRepo{db: db, tableName: tableName}
}

func (r *NotificationRepo) marshal(n *domain.Notification) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return nil, fmt.Errorf("marshal notification: %w", err)
	}
	if n.Recipient.ID != "" {
		item["recipient_id"] = &types.AttributeValueMemberS{Value: n.Recipient.ID}
	}
	return item, nil
}

func (r *NotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	item, err := r.marshal(n)
	if err != nil {
		return err
	}
	return putNew(ctx, r.db, r.tableName, "notification_id", item)
}

func (r *NotificationRepo) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	n, err := getItem[domain.Notification](ctx, r.db, r.tableName, strKey("notification_id", notificationID))
	if err != nil {
		return nil, fmt.Errorf("notification %s: %w", notificationID, err)
	}
	return n, nil
}

func (r *NotificationRepo) Save(ctx context.Context, n *domain.Notification, expectedVersion int64) error {
	item, err := r.marshal(n)
	if err != nil {
		return err
	}
	err = putVersioned(ctx, r.db, r.tableName, "notification_id", item, expectedVersion)
	return versionedErr(err, "notification", n.NotificationID)
}

// List serves the filter from the most selective index available and falls
// back to a scan when no indexed field is set.
func (r *NotificationRepo) List(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	var (
		items []domain.Notification
		err   error
	)
	switch {
	case f.CampaignID != "":
		items, err = queryIndex[domain.Notification](ctx, r.db, r.tableName, campaignIndex, "campaign_id", f.CampaignID)
	case f.RecipientID != "":
		items, err = queryIndex[domain.Notification](ctx, r.db, r.tableName, recipientIndex, "recipient_id", f.RecipientID)
	case f.Status != "":
		items, err = queryIndex[domain.Notification](ctx, r.db, r.tableName, statusIndex, "status", string(f.Status))
	default:
		items, err = scanAll[domain.Notification](ctx, r.db, &dynamodb.ScanInput{TableName: aws.String(r.tableName)})
	}
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	out := make([]domain.Notification, 0, len(items))
	for i := range items {
		if f.Match(&items[i]) {
			out = append(out, items[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NotificationID < out[j].NotificationID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
