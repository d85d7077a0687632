package listeners

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SafeCircle/internal/events"
	"SafeCircle/internal/models"
	"SafeCircle/internal/services"
	"SafeCircle/pkg/clock"
	"SafeCircle/pkg/credential"
	"SafeCircle/pkg/notification"
	"SafeCircle/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type fakePusher struct {
	mu   sync.Mutex
	sent []notification.Message
	fail map[string]error
}

func (p *fakePusher) Name() string { return "fake" }

func (p *fakePusher) Send(_ context.Context, msg notification.Message) (string, error) {
	if msg.Token == "" {
		return "", notification.ErrNoToken
	}
	if err := p.fail[msg.Token]; err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return "msg-" + msg.Token, nil
}

func (p *fakePusher) tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sent))
	for _, m := range p.sent {
		out = append(out, m.Token)
	}
	return out
}

type env struct {
	svc    *services.Services
	db     *gorm.DB
	clk    *clock.Mock
	pusher *fakePusher
	push   *PushListener
	circle *models.Circle
	users  map[string]*models.User
}

func setup(t *testing.T) *env {
	t.Helper()
	credential.PasswordCost = bcrypt.MinCost
	ctx := context.Background()

	clk := clock.NewMock(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	db, err := util.InitDatabase("sqlite", "file::memory:", clk.Now)
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	iss, err := credential.NewIssuer(credential.Config{Secret: "listener-secret-0123456789"}, clk)
	require.NoError(t, err)

	bus := events.NewBus()
	svc := services.New(services.Deps{DB: db, Clock: clk, Publisher: bus, Issuer: iss})
	pusher := &fakePusher{fail: map[string]error{"tok-broken": errors.New("unregistered")}}
	push := NewPushListener(svc, pusher, nil, PushOptions{Workers: 1})
	require.NoError(t, bus.Subscribe("push", push))
	t.Cleanup(func() { _ = push.Close() })

	e := &env{svc: svc, db: db, clk: clk, pusher: pusher, push: push, users: map[string]*models.User{}}
	for _, name := range []string{"owner", "victor", "wendy", "xena", "yuri"} {
		res, err := svc.Auth.Register(ctx, services.RegisterInput{Name: name, Email: name + "@example.com", Password: "password123"})
		require.NoError(t, err)
		e.users[name] = res.User
	}
	require.NoError(t, svc.Users.UpdatePushToken(ctx, e.users["owner"].ID, "tok-owner"))
	require.NoError(t, svc.Users.UpdatePushToken(ctx, e.users["victor"].ID, "tok-victor"))
	require.NoError(t, svc.Users.UpdatePushToken(ctx, e.users["xena"].ID, "tok-xena"))
	require.NoError(t, svc.Users.UpdatePushToken(ctx, e.users["yuri"].ID, "tok-broken"))
	off := false
	_, err = svc.Users.UpdatePrivacy(ctx, e.users["xena"].ID, services.UpdatePrivacyInput{AllowAlertNotifications: &off})
	require.NoError(t, err)

	c, err := svc.Circles.Create(ctx, e.users["owner"].ID, services.CreateCircleInput{Name: "Family"})
	require.NoError(t, err)
	for _, name := range []string{"victor", "wendy", "xena", "yuri"} {
		_, err := svc.Circles.JoinByCode(ctx, e.users[name].ID, c.InviteCode)
		require.NoError(t, err)
	}
	e.circle = c
	return e
}

func ledgerByUser(a *models.Alert) map[string][]string {
	out := map[string][]string{}
	for _, n := range a.Notifications {
		out[n.UserID] = append(out[n.UserID], n.Status)
	}
	return out
}

func TestAlertPushWritesLedger(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	a, err := e.svc.Alerts.Create(ctx, e.users["owner"].ID, services.CreateAlertInput{
		CircleID: e.circle.ID,
		Title:    "Help",
		Location: models.Location{Coordinates: models.Coordinates{13.4, 52.5}},
	})
	require.NoError(t, err)
	require.NoError(t, e.push.Close())

	assert.Equal(t, []string{"tok-victor"}, e.pusher.tokens())

	stored, err := models.GetAlertByID(e.db, a.ID)
	require.NoError(t, err)
	ledger := ledgerByUser(stored)
	assert.Equal(t, []string{models.NotificationSent}, ledger[e.users["victor"].ID])
	assert.Equal(t, []string{models.NotificationFailed}, ledger[e.users["wendy"].ID], "no device token")
	assert.Equal(t, []string{models.NotificationFailed}, ledger[e.users["yuri"].ID])
	assert.NotContains(t, ledger, e.users["xena"].ID, "opted out of alert pushes")
	assert.NotContains(t, ledger, e.users["owner"].ID, "the trigger is not notified")
	assert.Equal(t, models.AlertActive, stored.Status)
}

func TestEscalationPushIsCritical(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	a, err := e.svc.Alerts.Create(ctx, e.users["victor"].ID, services.CreateAlertInput{
		CircleID: e.circle.ID,
		Type:     models.AlertTypeManual,
		Severity: models.SeverityLow,
		Title:    "Strange car outside",
		Location: models.Location{Coordinates: models.Coordinates{13.4, 52.5}},
	})
	require.NoError(t, err)

	e.clk.Advance(6 * time.Minute)
	n, err := e.svc.Alerts.SweepEscalations(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, e.push.Close())

	e.pusher.mu.Lock()
	sent := append([]notification.Message(nil), e.pusher.sent...)
	e.pusher.mu.Unlock()
	require.Len(t, sent, 2)
	assert.False(t, sent[0].Critical)
	assert.True(t, sent[1].Critical)
	assert.Equal(t, "tok-owner", sent[1].Token)
	assert.Equal(t, events.AlertEscalated, sent[1].Data["type"])
	assert.Equal(t, "Alert still unanswered", sent[1].Title)

	stored, err := models.GetAlertByID(e.db, a.ID)
	require.NoError(t, err)
	assert.Len(t, ledgerByUser(stored)[e.users["owner"].ID], 2)
}

func TestOverduePushSentOnce(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	ci, err := e.svc.CheckIns.Create(ctx, e.users["wendy"].ID, services.CreateCheckInInput{
		CircleID:           e.circle.ID,
		Location:           models.Location{Coordinates: models.Coordinates{13.4, 52.5}},
		ExpectedReturnTime: e.clk.Now().Add(30 * time.Minute),
	})
	require.NoError(t, err)

	e.clk.Advance(time.Hour)
	n, err := e.svc.CheckIns.MaterializeOverdue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, e.push.Close())

	assert.ElementsMatch(t, []string{"tok-owner", "tok-victor", "tok-xena"}, e.pusher.tokens())
	e.pusher.mu.Lock()
	first := e.pusher.sent[0]
	e.pusher.mu.Unlock()
	assert.Equal(t, "wendy is overdue", first.Title)
	assert.Equal(t, "Expected back at 08:30 UTC", first.Body)

	stored, err := models.GetCheckInByID(e.db, ci.ID)
	require.NoError(t, err)
	assert.True(t, stored.Notifications.OverdueNotified)

	// 已通知过的逾期事件不再推送
	stored.Status = models.CheckInOverdue
	e.push.process(ctx, events.ToCircle(events.CheckInOverdue, stored.CircleID, stored.UserID,
		events.CheckInOverduePayload{CheckInID: stored.ID, CheckIn: stored}, e.clk.Now()))
	assert.Len(t, e.pusher.tokens(), 3)
}

func TestClosedListenerIgnoresEvents(t *testing.T) {
	e := setup(t)
	require.NoError(t, e.push.Close())
	require.NoError(t, e.push.Close())

	e.push.Handle(events.ToCircle(events.AlertCreated, e.circle.ID, "", events.AlertCreatedPayload{}, e.clk.Now()))
	e.push.Handle(events.ToCircle(events.MemberJoined, e.circle.ID, "", nil, e.clk.Now()))
	assert.Empty(t, e.pusher.tokens())
}
