// Package awsdriver implements providerapi.Driver on AWS: DynamoDB for the
// KV store, S3 for object storage, ECS (Fargate) for runner launches, and
// SNS for notifications (§4.1 "AWS (KV=DynamoDB, object=S3,
// runner=ECS/Lambda)").
package awsdriver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/infraweave-io/infraweave/internal/config"
	"github.com/infraweave-io/infraweave/internal/errs"
	"github.com/infraweave-io/infraweave/internal/kv"
	"github.com/infraweave-io/infraweave/internal/provider/providerapi"
	"github.com/infraweave-io/infraweave/internal/retry"
)

// Driver is the AWS Provider Driver variant.
type Driver struct {
	ddb    *dynamodb.Client
	s3     *s3.Client
	ecs    *ecs.Client
	sns    *sns.Client
	region string

	cluster        string
	subnets        []string
	securityGroups []string
	taskRoleArn    string
	executionRole  string
	notifyTopicArn string
}

// New loads the default AWS config (credentials chain, region) and wires
// the four service clients the driver needs.
func New(cfg config.Config) (*Driver, error) {
	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "loading AWS config")
	}
	return &Driver{
		ddb:            dynamodb.NewFromConfig(awsCfg),
		s3:             s3.NewFromConfig(awsCfg),
		ecs:            ecs.NewFromConfig(awsCfg),
		sns:            sns.NewFromConfig(awsCfg),
		region:         cfg.Region,
		cluster:        os.Getenv("RUNNER_ECS_CLUSTER"),
		taskRoleArn:    os.Getenv("RUNNER_TASK_ROLE_ARN"),
		executionRole:  os.Getenv("RUNNER_EXECUTION_ROLE_ARN"),
		notifyTopicArn: os.Getenv("NOTIFICATION_TOPIC_ARN"),
	}, nil
}

func (d *Driver) Name() string { return "aws" }

func (d *Driver) RunFunction(ctx context.Context, event string, data any) ([]byte, error) {
	// AWS Lambda invocation is out of this core's scope beyond the
	// envelope shape (§1 "the actual IaC executor... is a separate runner
	// binary"); this call only returns the marshalled event/data envelope
	// and invokes no Lambda.
	return json.Marshal(map[string]any{"event": event, "data": data})
}

func (d *Driver) TransactWrite(ctx context.Context, ops []kv.Op) error {
	return retry.DoConditional(ctx, func(ctx context.Context) error {
		items := make([]ddbtypes.TransactWriteItem, 0, len(ops))
		for _, op := range ops {
			key := map[string]ddbtypes.AttributeValue{
				"PK": &ddbtypes.AttributeValueMemberS{Value: op.Item.PK},
				"SK": &ddbtypes.AttributeValueMemberS{Value: op.Item.SK},
			}
			if op.Delete {
				del := &ddbtypes.Delete{TableName: &op.Item.Table, Key: key}
				if op.Condition != nil {
					del.ConditionExpression = &op.Condition.Expression
				}
				items = append(items, ddbtypes.TransactWriteItem{Delete: del})
				continue
			}
			raw, err := json.Marshal(op.Item.Value)
			if err != nil {
				return errs.Other(err)
			}
			item := map[string]ddbtypes.AttributeValue{
				"PK":   &ddbtypes.AttributeValueMemberS{Value: op.Item.PK},
				"SK":   &ddbtypes.AttributeValueMemberS{Value: op.Item.SK},
				"Data": &ddbtypes.AttributeValueMemberS{Value: string(raw)},
			}
			put := &ddbtypes.Put{TableName: &op.Item.Table, Item: item}
			if op.Condition != nil {
				put.ConditionExpression = &op.Condition.Expression
			}
			items = append(items, ddbtypes.TransactWriteItem{Put: put})
		}
		_, err := d.ddb.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if err != nil {
			var ccf *ddbtypes.TransactionCanceledException
			if errors.As(err, &ccf) {
				return errs.Wrap(errs.KindConditionalCheckFailed, err, "transact write rejected")
			}
			return errs.Wrap(errs.KindTransport, err, "dynamodb transact write")
		}
		return nil
	})
}

func (d *Driver) ReadDB(ctx context.Context, q kv.Query) ([][]byte, error) {
	var out [][]byte
	err := retry.Do(ctx, func(ctx context.Context) error {
		keyCond := "PK = :pk"
		values := map[string]ddbtypes.AttributeValue{
			":pk": &ddbtypes.AttributeValueMemberS{Value: q.PK},
		}
		if q.SKPrefix != "" {
			keyCond += " AND begins_with(SK, :skprefix)"
			values[":skprefix"] = &ddbtypes.AttributeValueMemberS{Value: q.SKPrefix}
		} else if q.SKEquals != "" {
			keyCond += " AND SK = :sk"
			values[":sk"] = &ddbtypes.AttributeValueMemberS{Value: q.SKEquals}
		} else if q.SKLessOrEqual != "" {
			keyCond += " AND SK <= :skmax"
			values[":skmax"] = &ddbtypes.AttributeValueMemberS{Value: q.SKLessOrEqual}
		}
		forward := !q.Descending
		in := &dynamodb.QueryInput{
			TableName:                 &q.Table,
			KeyConditionExpression:    &keyCond,
			ExpressionAttributeValues: values,
			ScanIndexForward:          &forward,
		}
		if q.Limit > 0 {
			limit := int32(q.Limit)
			in.Limit = &limit
		}
		res, err := d.ddb.Query(ctx, in)
		if err != nil {
			return errs.Wrap(errs.KindTransport, err, "dynamodb query")
		}
		out = make([][]byte, 0, len(res.Items))
		for _, item := range res.Items {
			data, ok := item["Data"].(*ddbtypes.AttributeValueMemberS)
			if !ok {
				continue
			}
			out = append(out, []byte(data.Value))
		}
		return nil
	})
	return out, err
}

func (d *Driver) UploadFileBase64(ctx context.Context, bucket, key string, content []byte) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		_, err := d.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   newReader(content),
		})
		if err != nil {
			return errs.Wrap(errs.KindTransport, err, "s3 put object")
		}
		return nil
	})
}

func (d *Driver) GeneratePresignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	presign := s3.NewPresignClient(d.s3)
	out, err := presign.PresignGetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", errs.Wrap(errs.KindNotFound, err, "%s/%s", bucket, key)
	}
	return out.URL, nil
}

func (d *Driver) StartRunner(ctx context.Context, spec providerapi.JobSpec) (string, error) {
	var jobID string
	err := retry.Do(ctx, func(ctx context.Context) error {
		env := make([]ecstypes.KeyValuePair, 0, len(spec.Env))
		for k, v := range spec.Env {
			k, v := k, v
			env = append(env, ecstypes.KeyValuePair{Name: &k, Value: &v})
		}
		out, err := d.ecs.RunTask(ctx, &ecs.RunTaskInput{
			Cluster:        &d.cluster,
			TaskDefinition: &spec.Image,
			LaunchType:     ecstypes.LaunchTypeFargate,
			Overrides: &ecstypes.TaskOverride{
				ContainerOverrides: []ecstypes.ContainerOverride{{
					Name:    strPtr("runner"),
					Command: spec.Command,
					Environment: env,
				}},
			},
		})
		if err != nil {
			return errs.Wrap(errs.KindCapacity, err, "ecs run task")
		}
		if len(out.Tasks) == 0 {
			return errs.New(errs.KindCapacity, "ecs run task returned no tasks")
		}
		jobID = *out.Tasks[0].TaskArn
		return nil
	})
	return jobID, err
}

func (d *Driver) ReadLogs(ctx context.Context, jobID string, cursor string, limit int) (providerapi.LogCursor, error) {
	// No CloudWatch Logs client is wired into Driver, so log tailing is
	// not available on AWS: this always returns a transport error. Only the
	// None driver returns a working LogCursor.
	return nil, errs.New(errs.KindTransport, "cloudwatch log tailing requires a live AWS session")
}

func (d *Driver) PublishNotification(ctx context.Context, data any) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		raw, err := json.Marshal(data)
		if err != nil {
			return errs.Other(err)
		}
		msg := string(raw)
		_, err = d.sns.Publish(ctx, &sns.PublishInput{TopicArn: &d.notifyTopicArn, Message: &msg})
		if err != nil {
			return errs.Wrap(errs.KindTransport, err, "sns publish")
		}
		return nil
	})
}

func (d *Driver) GetUserID() (string, error) { return "", errs.New(errs.KindEnvironmentNotAvailable, "STS caller identity not resolved") }
func (d *Driver) GetCurrentJobID() (string, error) {
	return "", errs.New(errs.KindEnvironmentNotAvailable, "ECS_CONTAINER_METADATA_URI not set")
}
func (d *Driver) GetRegion() (string, error) { return d.region, nil }

func strPtr(s string) *string { return &s }

func newReader(b []byte) *bytesReader { return &bytesReader{b: b} }

// bytesReader adapts a []byte to io.Reader+io.Seeker, the shape
// s3.PutObjectInput.Body expects, without pulling in bytes.Reader's wider
// surface at the call site.
type bytesReader struct {
	b   []byte
	pos int64
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= int64(len(r.b)) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.pos:])
	r.pos += int64(n)
	return n, nil
}

func (r *bytesReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		r.pos = offset
	case 1:
		r.pos += offset
	case 2:
		r.pos = int64(len(r.b)) + offset
	}
	return r.pos, nil
}

var _ providerapi.Driver = (*Driver)(nil)
