package sqs

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/incidenthq/incidentd/alert"
)

const (
	waitTimeSeconds   = 20
	maxMessages       = 10
	visibilityTimeout = 60
)

var processed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "incidentd",
	Subsystem: "sqs",
	Name:      "messages_processed_total",
	Help:      "Queue messages parsed and handed to the processor.",
})

// receiver is the slice of the SQS client the poll loop uses.
type receiver interface {
	ReceiveMessageWithContext(ctx aws.Context, input *awssqs.ReceiveMessageInput, opts ...request.Option) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessageWithContext(ctx aws.Context, input *awssqs.DeleteMessageInput, opts ...request.Option) (*awssqs.DeleteMessageOutput, error)
}

type Diagnostic interface {
	StartingService()
	StoppedService()
	MessageReceived(messageID string)
	ParseFailed(messageID string, err error)

	Error(msg string, err error)
}

// Service long-polls an SQS queue of SNS notification envelopes and feeds
// the processor. Messages are deleted only after successful handling;
// failures reappear after the visibility timeout.
type Service struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	closing chan struct{}
	cancel  context.CancelFunc

	enabled  bool
	queueURL string
	region   string

	client receiver

	ProcessorService interface {
		Process(ctx context.Context, a alert.Alert)
	}

	diag Diagnostic
}

func NewService(c Config, d Diagnostic) *Service {
	return &Service{
		enabled:  c.Enabled,
		queueURL: c.QueueURL,
		region:   c.Region,
		diag:     d,
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.closing != nil {
		return nil
	}

	if s.client == nil {
		region := s.region
		if region == "" {
			var err error
			if region, err = RegionFromURL(s.queueURL); err != nil {
				return err
			}
		}
		sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
		if err != nil {
			return errors.Wrap(err, "create aws session")
		}
		s.client = awssqs.New(sess)
	}

	s.diag.StartingService()
	s.closing = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	if s.closing != nil {
		close(s.closing)
		s.closing = nil
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	if s.enabled {
		s.diag.StoppedService()
	}
	return nil
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()

	retry := backoff.NewExponentialBackOff()
	retry.MaxElapsedTime = 0

	for {
		select {
		case <-closing:
			return
		default:
		}

		out, err := s.client.ReceiveMessageWithContext(ctx, &awssqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: aws.Int64(maxMessages),
			WaitTimeSeconds:     aws.Int64(waitTimeSeconds),
			VisibilityTimeout:   aws.Int64(visibilityTimeout),
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.diag.Error("receive messages", err)
			select {
			case <-closing:
				return
			case <-time.After(retry.NextBackOff()):
			}
			continue
		}
		retry.Reset()

		for _, msg := range out.Messages {
			s.handle(ctx, msg)
		}
	}
}

func (s *Service) handle(ctx context.Context, msg *awssqs.Message) {
	id := aws.StringValue(msg.MessageId)
	s.diag.MessageReceived(id)

	a, err := ParseEnvelope([]byte(aws.StringValue(msg.Body)))
	if err != nil {
		// Not deleted: the message reappears after the visibility timeout.
		s.diag.ParseFailed(id, err)
		return
	}
	s.ProcessorService.Process(ctx, a)
	processed.Inc()

	_, err = s.client.DeleteMessageWithContext(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		s.diag.Error("delete message", err)
	}
}
