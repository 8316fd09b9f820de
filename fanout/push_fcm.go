package fanout

import (
	"context"
	"fmt"

	fcm "google.golang.org/api/fcm/v1"
	"google.golang.org/api/option"

	"github.com/yeremiapane/waiter-call/models"
)

// FCMPusher sends notifications through Firebase Cloud Messaging HTTP v1.
type FCMPusher struct {
	svc    *fcm.Service
	parent string
}

// NewFCMPusher builds the FCM client. Credentials come from opts, typically
// option.WithCredentialsFile.
func NewFCMPusher(ctx context.Context, projectID string, opts ...option.ClientOption) (*FCMPusher, error) {
	svc, err := fcm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create fcm service: %w", err)
	}
	return &FCMPusher{svc: svc, parent: "projects/" + projectID}, nil
}

func (p *FCMPusher) Platform() string { return models.PlatformFCM }

func (p *FCMPusher) Send(ctx context.Context, token string, msg PushMessage) error {
	req := &fcm.SendMessageRequest{
		Message: &fcm.Message{
			Token: token,
			Notification: &fcm.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
			Data: msg.Data,
			Android: &fcm.AndroidConfig{
				Priority: "HIGH",
			},
		},
	}
	if _, err := p.svc.Projects.Messages.Send(p.parent, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}
	return nil
}
