package dynamotest

import "github.com/imrishuroy/go-vehicle-orderflow/internal/aws"

var _ aws.DynamoDBAPI = (*Fake)(nil)
