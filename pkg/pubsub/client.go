// Package pubsub owns the optional Pub/Sub connection used to fan out manual review notifications.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/logger"
)

const (
	// Review notifications are rare and latency matters more than batching.
	reviewDelayThreshold = 50 * time.Millisecond
	reviewCountThreshold = 10
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub review topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client holds the Pub/Sub connection and the review topic publisher.
type Client struct {
	ps     *pubsub.Client
	topic  string
	review *pubsub.Publisher
}

// NewClient connects and confirms the review topic exists. Topics are provisioned
// out of band; a missing topic is an error, not something to create.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	topic := topicPath(projectID, cfg.ReviewTopic)
	if topic == "" {
		return nil, errTopicRequired
	}

	ps, err := pubsub.NewClient(ctx, projectID, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{ps: ps, topic: topic}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	c.review = ps.Publisher(topic)
	c.review.PublishSettings.DelayThreshold = reviewDelayThreshold
	c.review.PublishSettings.CountThreshold = reviewCountThreshold

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub.connected")
	}
	return c, nil
}

func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

// ReviewPublisher returns the review topic publisher, or nil when the client is not connected.
func (c *Client) ReviewPublisher() *pubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.review
}

// Ping looks the review topic up through the admin API.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.ps == nil {
		return errNotInitialized
	}
	_, err := c.ps.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %s does not exist", c.topic)
	default:
		return fmt.Errorf("get topic %s: %w", c.topic, err)
	}
}

// Close flushes pending review notifications, then releases the connection.
func (c *Client) Close() error {
	if c == nil || c.ps == nil {
		return nil
	}
	if c.review != nil {
		c.review.Stop()
	}
	return c.ps.Close()
}

// topicPath expands a short topic id to projects/<project>/topics/<id>. A full topic
// path passes through unchanged.
func topicPath(projectID, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/topics/") {
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/topics/" + name
}
