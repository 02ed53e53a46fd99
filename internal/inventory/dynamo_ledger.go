package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoLedger.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoLedger stores inventory in a table keyed by product_id and enforces
// the version check with a condition expression.
type DynamoLedger struct {
	client DynamoAPI
	table  string
	now    func() time.Time
}

func NewDynamoLedger(client DynamoAPI, table string) *DynamoLedger {
	return &DynamoLedger{client: client, table: table, now: time.Now}
}

type ddbInventory struct {
	ProductID        int64  `dynamodbav:"product_id"`
	Quantity         int    `dynamodbav:"quantity"`
	ReservedQuantity int    `dynamodbav:"reserved_quantity"`
	Version          int64  `dynamodbav:"version"`
	UpdatedAt        string `dynamodbav:"updated_at"`
}

func (d ddbInventory) toInventory() Inventory {
	inv := Inventory{
		ProductID:        d.ProductID,
		Quantity:         d.Quantity,
		ReservedQuantity: d.ReservedQuantity,
		Version:          d.Version,
	}
	if t, err := time.Parse(time.RFC3339Nano, d.UpdatedAt); err == nil {
		inv.UpdatedAt = t
	}
	return inv
}

func productKey(productID int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"product_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(productID, 10)},
	}
}

func (l *DynamoLedger) Get(ctx context.Context, productID int64) (*Inventory, error) {
	out, err := l.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &l.table,
		Key:            productKey(productID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrProductNotFound
	}

	var di ddbInventory
	if err := attributevalue.UnmarshalMap(out.Item, &di); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	inv := di.toInventory()
	return &inv, nil
}

func (l *DynamoLedger) Save(ctx context.Context, inv *Inventory, expectedVersion int64) error {
	now := l.now().UTC()

	expr := "SET #qty = :qty, #resv = :resv, #ver = :next, updated_at = :now"
	condExpr := "#ver = :expected"
	values, err := attributevalue.MarshalMap(map[string]any{
		":qty":      inv.Quantity,
		":resv":     inv.ReservedQuantity,
		":next":     expectedVersion + 1,
		":expected": expectedVersion,
		":now":      now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal update values: %w", err)
	}

	_, err = l.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 &l.table,
		Key:                       productKey(inv.ProductID),
		UpdateExpression:          &expr,
		ConditionExpression:       &condExpr,
		ExpressionAttributeValues: values,
		ExpressionAttributeNames: map[string]string{
			"#qty":  "quantity",
			"#resv": "reserved_quantity",
			"#ver":  "version",
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrVersionConflict
		}
		return fmt.Errorf("dynamodb UpdateItem failed: %w", err)
	}

	inv.Version = expectedVersion + 1
	inv.UpdatedAt = now
	return nil
}

func (l *DynamoLedger) Create(ctx context.Context, inv *Inventory) error {
	inv.UpdatedAt = l.now().UTC()
	item, err := attributevalue.MarshalMap(ddbInventory{
		ProductID:        inv.ProductID,
		Quantity:         inv.Quantity,
		ReservedQuantity: inv.ReservedQuantity,
		Version:          inv.Version,
		UpdatedAt:        inv.UpdatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}

	condExpr := "attribute_not_exists(product_id)"
	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &l.table,
		Item:                item,
		ConditionExpression: &condExpr,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrProductExists
		}
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}

func (l *DynamoLedger) List(ctx context.Context) ([]Inventory, error) {
	var items []Inventory
	paginator := dynamodb.NewScanPaginator(l.client, &dynamodb.ScanInput{TableName: &l.table})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb Scan failed: %w", err)
		}
		var batch []ddbInventory
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
		for _, di := range batch {
			items = append(items, di.toInventory())
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
	return items, nil
}

// ListBelowAvailable filters client side since filter expressions cannot
// subtract attributes.
func (l *DynamoLedger) ListBelowAvailable(ctx context.Context, threshold int) ([]Inventory, error) {
	all, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	var low []Inventory
	for _, inv := range all {
		if inv.Available() < threshold {
			low = append(low, inv)
		}
	}
	return low, nil
}
