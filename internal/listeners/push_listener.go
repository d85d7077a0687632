package listeners

import (
	"context"
	"errors"
	"sync"
	"time"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/i18n"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/notification"

	"go.uber.org/zap"
)

const pushTimeout = 10 * time.Second

// PushOptions 队列长度、并发推送数与推送文案语言
type PushOptions struct {
	Workers    int
	QueueSize  int
	Language   string
	Translator *i18n.Translator
}

// PushListener 把告警与逾期事件转成离线推送，结果写回告警投递记录
type PushListener struct {
	svc     *services.Services
	pusher  notification.Pusher
	metrics *metrics.Metrics
	tr      *i18n.Translator
	lang    string

	mu     sync.RWMutex
	closed bool
	queue  chan events.Event
	wg     sync.WaitGroup
}

func NewPushListener(svc *services.Services, pusher notification.Pusher, m *metrics.Metrics, opts PushOptions) *PushListener {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Translator == nil {
		opts.Translator = i18n.MustNew("en")
	}
	if opts.Language == "" {
		opts.Language = opts.Translator.DefaultLanguage()
	}
	l := &PushListener{
		svc:     svc,
		pusher:  pusher,
		metrics: m,
		tr:      opts.Translator,
		lang:    opts.Language,
		queue:   make(chan events.Event, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

func wantsPush(typ string) bool {
	switch typ {
	case events.AlertCreated, events.AlertEscalated, events.CheckInOverdue:
		return true
	}
	return false
}

// Handle 实现 events.Sink，不阻塞发布方；队列满时丢弃
func (l *PushListener) Handle(ev events.Event) {
	if !wantsPush(ev.Type) {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		logger.Warn("push queue full, event dropped", zap.String("type", ev.Type), zap.String("circle", ev.CircleID))
		l.metrics.RecordPush(l.pusher.Name(), "dropped")
	}
}

// Close 停止接收并等待队列中的事件处理完
func (l *PushListener) Close() error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

func (l *PushListener) worker() {
	defer l.wg.Done()
	for ev := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		l.process(ctx, ev)
		cancel()
	}
}

func (l *PushListener) process(ctx context.Context, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("push listener panic", zap.String("type", ev.Type), zap.Any("recover", r))
		}
	}()

	switch ev.Type {
	case events.AlertCreated:
		p, ok := ev.Data.(events.AlertCreatedPayload)
		if !ok || p.Alert == nil {
			return
		}
		name := p.TriggeredBy.Name
		if name == "" {
			name = l.t("push.alert.someone", nil)
		}
		l.pushAlert(ctx, ev, p.Alert.ID, notification.Message{
			Title:    l.t("push.alert.title", map[string]interface{}{"Name": name}),
			Body:     p.Alert.Title,
			Critical: p.Alert.Severity == models.SeverityCritical,
			Data: map[string]string{
				"type":     ev.Type,
				"alertId":  p.Alert.ID,
				"circleId": ev.CircleID,
			},
		})
	case events.AlertEscalated:
		p, ok := ev.Data.(events.AlertEscalatedPayload)
		if !ok {
			return
		}
		l.pushAlert(ctx, ev, p.AlertID, notification.Message{
			Title:    l.t("push.escalated.title", nil),
			Body:     p.Title,
			Critical: true,
			Data: map[string]string{
				"type":     ev.Type,
				"alertId":  p.AlertID,
				"circleId": ev.CircleID,
			},
		})
	case events.CheckInOverdue:
		p, ok := ev.Data.(events.CheckInOverduePayload)
		if !ok || p.CheckIn == nil {
			return
		}
		l.pushOverdue(ctx, ev, p.CheckIn)
	}
}

// pushAlert 每位接收者的结果都记入告警的投递记录
func (l *PushListener) pushAlert(ctx context.Context, ev events.Event, alertID string, tmpl notification.Message) {
	recipients, err := l.svc.Circles.Recipients(ctx, ev.CircleID, ev.ActorID)
	if err != nil {
		logger.Error("load push recipients failed", zap.String("circle", ev.CircleID), zap.Error(err))
		return
	}
	channel := l.pusher.Name()
	for _, u := range recipients {
		if !u.Privacy.AllowAlertNotifications {
			l.metrics.RecordPush(channel, "skipped")
			continue
		}
		sendErr := l.send(ctx, u, tmpl)
		if sendErr != nil {
			err = l.svc.Alerts.RecordFailedNotification(ctx, alertID, u.ID, channel, sendErr.Error())
		} else {
			err = l.svc.Alerts.RecordNotification(ctx, alertID, u.ID, channel)
		}
		if err != nil {
			logger.Error("record notification failed", zap.String("alert", alertID), zap.String("user", u.ID), zap.Error(err))
		}
	}
}

// pushOverdue 逾期提醒只发一次
func (l *PushListener) pushOverdue(ctx context.Context, ev events.Event, ci *models.CheckIn) {
	if ci.Notifications.OverdueNotified {
		return
	}
	recipients, err := l.svc.Circles.Recipients(ctx, ci.CircleID, ci.UserID)
	if err != nil {
		logger.Error("load push recipients failed", zap.String("circle", ci.CircleID), zap.Error(err))
		return
	}
	owner := l.svc.Identities.Get(ctx, ci.UserID)
	tmpl := notification.Message{
		Title: l.t("push.overdue.title", map[string]interface{}{"Name": owner.Name}),
		Body:  l.t("push.overdue.body", map[string]interface{}{"Time": ci.ExpectedReturnTime.UTC().Format("15:04 UTC")}),
		Data: map[string]string{
			"type":      ev.Type,
			"checkInId": ci.ID,
			"circleId":  ci.CircleID,
		},
	}
	for _, u := range recipients {
		if !u.Privacy.AllowCheckInNotifications {
			l.metrics.RecordPush(l.pusher.Name(), "skipped")
			continue
		}
		_ = l.send(ctx, u, tmpl)
	}
	if err := l.svc.CheckIns.MarkOverdueNotified(ctx, ci.ID); err != nil {
		logger.Error("mark overdue notified failed", zap.String("checkin", ci.ID), zap.Error(err))
	}
}

func (l *PushListener) t(key string, data map[string]interface{}) string {
	return l.tr.T(l.lang, key, data)
}

func (l *PushListener) send(ctx context.Context, u models.User, tmpl notification.Message) error {
	msg := tmpl
	msg.Token = u.PushToken
	channel := l.pusher.Name()
	if _, err := l.pusher.Send(ctx, msg); err != nil {
		if errors.Is(err, notification.ErrNoToken) {
			l.metrics.RecordPush(channel, "no_token")
		} else {
			l.metrics.RecordPush(channel, "failed")
			logger.Warn("push failed", zap.String("user", u.ID), zap.String("channel", channel), zap.Error(err))
		}
		return err
	}
	l.metrics.RecordPush(channel, "sent")
	return nil
}
