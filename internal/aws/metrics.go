package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metrics publishes business counters to CloudWatch under a single namespace.
type Metrics struct {
	CloudWatch CloudWatchAPI
	Namespace  string
	Service    string
}

// NewMetrics returns a Metrics recorder. service is attached as the "Service" dimension.
func NewMetrics(client CloudWatchAPI, namespace, service string) *Metrics {
	return &Metrics{
		CloudWatch: client,
		Namespace:  namespace,
		Service:    service,
	}
}

// Count records value for the named counter.
func (m *Metrics) Count(ctx context.Context, name string, value float64) error {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: awsString(m.Namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: awsString(name),
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: awsString("Service"), Value: awsString(m.Service)},
				},
			},
		},
	}
	if _, err := m.CloudWatch.PutMetricData(ctx, input); err != nil {
		return fmt.Errorf("put metric data %s: %w", name, err)
	}
	return nil
}
