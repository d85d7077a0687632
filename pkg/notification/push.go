package notification

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"SafeCircle/pkg/logger"
)

var ErrNoToken = errors.New("notification: recipient has no device token")

// Message 一条发往单个设备的推送
type Message struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string
	Critical bool
}

// Pusher 离线推送通道
type Pusher interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FCMPusher 通过 Firebase Cloud Messaging 下发
type FCMPusher struct {
	client *messaging.Client
}

func NewFCMPusher(ctx context.Context, cfg FCMConfig) (*FCMPusher, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return &FCMPusher{client: client}, nil
}

func (p *FCMPusher) Name() string { return "fcm" }

func (p *FCMPusher) Send(ctx context.Context, msg Message) (string, error) {
	if msg.Token == "" {
		return "", ErrNoToken
	}
	m := &messaging.Message{
		Token: msg.Token,
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data: msg.Data,
	}
	if msg.Critical {
		m.Android = &messaging.AndroidConfig{Priority: "high"}
		m.APNS = &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		}
	}
	return p.client.Send(ctx, m)
}

// LogPusher 未配置 FCM 时使用，只写日志
type LogPusher struct{}

func (LogPusher) Name() string { return "log" }

func (LogPusher) Send(ctx context.Context, msg Message) (string, error) {
	if msg.Token == "" {
		return "", ErrNoToken
	}
	logger.Info("push notification",
		zap.String("title", msg.Title),
		zap.String("body", msg.Body),
		zap.Bool("critical", msg.Critical),
	)
	return "", nil
}
