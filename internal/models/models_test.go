package models

import (
	"fmt"
	"testing"
	"time"

	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

var home = Location{Coordinates: Coordinates{-122.42, 37.77}, Address: "home"}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := util.InitDatabase("sqlite", "file::memory:", nil)
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newCircle(t *testing.T) *Circle {
	t.Helper()
	c, err := NewCircle("u1", "Family", "", nil, "ABCDEFGH", t0)
	require.NoError(t, err)
	return c
}

func TestCoordinates(t *testing.T) {
	assert.True(t, Coordinates{180, -90}.Valid())
	assert.False(t, Coordinates{181, 0}.Valid())
	assert.False(t, Coordinates{0, 90.5}.Valid())
	assert.Equal(t, -122.42, home.Coordinates.Lng())
	assert.Equal(t, 37.77, home.Coordinates.Lat())
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
}

func TestNewCircle(t *testing.T) {
	c := newCircle(t)
	assert.True(t, c.IsAdmin("u1"))
	assert.Equal(t, 1, c.ActiveAdminCount())
	assert.Equal(t, t0.Add(InviteCodeTTL), c.InviteCodeExpiry)
	assert.False(t, c.InviteCodeExpired(t0))
	assert.Equal(t, DefaultMaxMembers, c.Settings.MaxMembers)
	assert.True(t, c.Settings.AllowMemberInvites)

	for _, name := range []string{"", "x", string(make([]byte, 51))} {
		_, err := NewCircle("u1", name, "", nil, "CODE2345", t0)
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "name %q", name)
	}
	_, err := NewCircle("u1", "ok name", "", &CircleSettings{MaxMembers: 101}, "CODE2345", t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestCircleMembership(t *testing.T) {
	c := newCircle(t)

	added, err := c.AddMember("u2", "", t0)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 2, c.ActiveMemberCount())

	added, err = c.AddMember("u2", RoleMember, t0)
	require.NoError(t, err)
	assert.False(t, added, "active member is a no-op")

	require.NoError(t, c.RemoveMember("u2"))
	assert.False(t, c.IsMember("u2"))
	assert.Len(t, c.Members, 2, "removal is soft")

	added, err = c.AddMember("u2", RoleMember, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, added)
	assert.Len(t, c.Members, 2, "reactivation reuses the record")
	assert.True(t, c.IsMember("u2"))
	assert.False(t, c.IsAdmin("u2"))
}

func TestCircleCapacity(t *testing.T) {
	c, err := NewCircle("u1", "Pair", "", &CircleSettings{MaxMembers: 2}, "CODE2345", t0)
	require.NoError(t, err)
	_, err = c.AddMember("u2", RoleMember, t0)
	require.NoError(t, err)
	_, err = c.AddMember("u3", RoleMember, t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeCapacity))
	assert.Equal(t, 2, c.ActiveMemberCount())
}

func TestCircleLastAdmin(t *testing.T) {
	c := newCircle(t)
	_, err := c.AddMember("u2", RoleMember, t0)
	require.NoError(t, err)

	assert.True(t, apperr.IsCode(c.RemoveMember("u1"), apperr.CodeLastAdmin))
	assert.True(t, apperr.IsCode(c.UpdateMemberRole("u1", RoleMember), apperr.CodeLastAdmin))

	require.NoError(t, c.UpdateMemberRole("u2", RoleAdmin))
	require.NoError(t, c.UpdateMemberRole("u1", RoleMember))
	assert.True(t, apperr.IsCode(c.RemoveMember("u2"), apperr.CodeLastAdmin))
	assert.Equal(t, 1, c.ActiveAdminCount())

	assert.True(t, apperr.IsCode(c.UpdateMemberRole("u2", "owner"), apperr.CodeValidation))
	assert.True(t, apperr.IsCode(c.RemoveMember("nobody"), apperr.CodeNotFound))
}

// 任意操作序列之后活跃管理员数量始终不少于 1
func TestCircleAdminInvariant(t *testing.T) {
	c := newCircle(t)
	users := []string{"u1", "u2", "u3", "u4"}
	for i := 0; i < 400; i++ {
		u := users[(i*7)%len(users)]
		switch i % 4 {
		case 0:
			_, _ = c.AddMember(u, RoleMember, t0)
		case 1:
			_ = c.RemoveMember(u)
		case 2:
			_ = c.UpdateMemberRole(u, RoleMember)
		case 3:
			_ = c.UpdateMemberRole(u, RoleAdmin)
		}
		require.GreaterOrEqual(t, c.ActiveAdminCount(), 1, "step %d", i)
		require.LessOrEqual(t, c.ActiveMemberCount(), c.Settings.MaxMembers)
	}
}

func TestCircleInvites(t *testing.T) {
	c := newCircle(t)
	inv, err := c.AddInvite("Bob@Example.com", "u1", t0)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", inv.Email)
	assert.Equal(t, t0.Add(InviteTTL), inv.ExpiresAt)

	_, err = c.AddInvite("bob@example.com", "u1", t0.Add(time.Hour))
	assert.True(t, apperr.IsCode(err, apperr.CodeDuplicateInvite))

	// 过期后可以重新邀请
	_, err = c.AddInvite("bob@example.com", "u1", t0.Add(InviteTTL+time.Second))
	require.NoError(t, err)
	assert.Len(t, c.PendingInvites, 1)

	_, ok := c.TakeInvite("bob@example.com", t0.Add(InviteTTL))
	assert.True(t, ok)
	assert.Empty(t, c.PendingInvites)
	_, ok = c.TakeInvite("bob@example.com", t0)
	assert.False(t, ok)
}

func TestInviteCodeRegenerate(t *testing.T) {
	c := newCircle(t)
	assert.True(t, c.InviteCodeExpired(t0.Add(InviteCodeTTL)))
	later := t0.Add(40 * 24 * time.Hour)
	c.RegenerateInviteCode("ZZZZ2222", later)
	assert.Equal(t, "ZZZZ2222", c.InviteCode)
	assert.False(t, c.InviteCodeExpired(later))
}

func TestDeriveCheckInStatus(t *testing.T) {
	deadline := t0.Add(time.Hour)
	assert.Equal(t, CheckInActive, DeriveCheckInStatus(CheckInActive, deadline, t0))
	assert.Equal(t, CheckInActive, DeriveCheckInStatus(CheckInActive, deadline, deadline))
	assert.Equal(t, CheckInOverdue, DeriveCheckInStatus(CheckInActive, deadline, deadline.Add(time.Nanosecond)))
	assert.Equal(t, CheckInCompleted, DeriveCheckInStatus(CheckInCompleted, deadline, deadline.Add(time.Hour)))
	assert.Equal(t, CheckInCancelled, DeriveCheckInStatus(CheckInCancelled, deadline, deadline.Add(time.Hour)))
}

func TestNewCheckInValidation(t *testing.T) {
	_, err := NewCheckIn("u1", "c1", home, t0, "", t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = NewCheckIn("u1", "c1", Location{Coordinates: Coordinates{200, 0}}, t0.Add(time.Hour), "", t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	ci, err := NewCheckIn("u1", "c1", home, t0.Add(time.Hour), "walk", t0)
	require.NoError(t, err)
	assert.Equal(t, CheckInActive, ci.Status)
	assert.Len(t, ci.LocationHistory, 1)
}

func TestCheckInCompletionStatus(t *testing.T) {
	deadline := t0.Add(time.Hour)
	cases := []struct {
		at     time.Time
		status string
	}{
		{t0.Add(30 * time.Minute), CompletionEarly},
		{deadline, CompletionOnTime},
		{deadline.Add(time.Hour), CompletionLate},
	}
	for _, tc := range cases {
		ci, err := NewCheckIn("u1", "c1", home, deadline, "", t0)
		require.NoError(t, err)
		require.NoError(t, ci.Complete("back", tc.at))
		assert.Equal(t, CheckInCompleted, ci.Status)
		assert.Equal(t, tc.status, ci.Completion.Status)
		assert.Equal(t, "back", ci.Completion.Notes)
	}
}

func TestCheckInOverdueThenComplete(t *testing.T) {
	ci, err := NewCheckIn("u1", "c1", home, t0.Add(time.Hour), "", t0)
	require.NoError(t, err)

	later := t0.Add(2 * time.Hour)
	assert.True(t, ci.Derive(later))
	assert.Equal(t, CheckInOverdue, ci.Status)
	assert.False(t, ci.Derive(later))

	err = ci.UpdateLocation(Coordinates{1, 1}, "", later)
	assert.True(t, apperr.IsCode(err, apperr.CodeInvalidTransition))

	require.NoError(t, ci.Complete("back home", later))
	assert.Equal(t, CompletionLate, ci.Completion.Status)
}

// 终态之后 complete、cancel、位置更新全部失败
func TestCheckInTerminalStates(t *testing.T) {
	for _, terminal := range []string{CheckInCompleted, CheckInCancelled} {
		ci, err := NewCheckIn("u1", "c1", home, t0.Add(time.Hour), "", t0)
		require.NoError(t, err)
		if terminal == CheckInCompleted {
			require.NoError(t, ci.Complete("", t0))
		} else {
			require.NoError(t, ci.Cancel(t0))
		}
		for _, at := range []time.Time{t0, t0.Add(3 * time.Hour)} {
			assert.True(t, apperr.IsCode(ci.Complete("", at), apperr.CodeInvalidTransition))
			assert.True(t, apperr.IsCode(ci.Cancel(at), apperr.CodeInvalidTransition))
			assert.True(t, apperr.IsCode(ci.UpdateLocation(Coordinates{1, 1}, "", at), apperr.CodeInvalidTransition))
			assert.Equal(t, terminal, ci.Status)
		}
	}
}

func TestCheckInTransitionTable(t *testing.T) {
	assert.True(t, CanTransitionCheckIn(CheckInActive, CheckInOverdue))
	assert.True(t, CanTransitionCheckIn(CheckInOverdue, CheckInCancelled))
	assert.False(t, CanTransitionCheckIn(CheckInOverdue, CheckInActive))
	assert.False(t, CanTransitionCheckIn(CheckInCompleted, CheckInCancelled))
	assert.False(t, CanTransitionCheckIn(CheckInCancelled, CheckInCompleted))
}

func TestCheckInLocationHistoryRing(t *testing.T) {
	ci, err := NewCheckIn("u1", "c1", home, t0.Add(24*time.Hour), "", t0)
	require.NoError(t, err)
	for i := 0; i < 80; i++ {
		require.NoError(t, ci.UpdateLocation(Coordinates{float64(i) / 10, 0}, "", t0.Add(time.Duration(i)*time.Minute)))
	}
	require.Len(t, ci.LocationHistory, LocationHistoryLimit)
	assert.Equal(t, Coordinates{7.9, 0}, ci.LocationHistory[LocationHistoryLimit-1].Coordinates)
	assert.Equal(t, Coordinates{3.0, 0}, ci.LocationHistory[0].Coordinates)
	assert.Equal(t, Coordinates{7.9, 0}, ci.Location.Coordinates)
}

func TestCheckInAcknowledgeUpsert(t *testing.T) {
	ci, err := NewCheckIn("u1", "c1", home, t0.Add(time.Hour), "", t0)
	require.NoError(t, err)
	ci.Acknowledge("u2", "seen", t0)
	ci.Acknowledge("u2", "still watching", t0.Add(time.Minute))
	ci.Acknowledge("u3", "", t0)
	require.Len(t, ci.Acknowledgments, 2)
	assert.Equal(t, "still watching", ci.Acknowledgments[0].Message)
}

func newAlert(t *testing.T) *Alert {
	t.Helper()
	a, err := NewAlert(NewAlertInput{TriggeredBy: "u1", CircleID: "c1", Title: "Help", Location: home}, t0)
	require.NoError(t, err)
	return a
}

func TestNewAlertDefaults(t *testing.T) {
	a := newAlert(t)
	assert.Equal(t, AlertTypePanic, a.Type)
	assert.Equal(t, SeverityCritical, a.Severity)
	assert.Equal(t, 5, a.Priority)
	assert.Equal(t, AlertActive, a.Status)
	assert.True(t, a.AutoEscalate.Enabled)
	assert.Equal(t, DefaultEscalateAfterMinutes, a.AutoEscalate.EscalateAfterMinutes)
	require.Len(t, a.ActivityLog, 1)
	assert.Equal(t, ActivityCreated, a.ActivityLog[0].Action)

	m, err := NewAlert(NewAlertInput{TriggeredBy: "u1", Type: AlertTypeManual, Title: "x", Location: home}, t0)
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, m.Severity)
	assert.Equal(t, 3, m.Priority)

	_, err = NewAlert(NewAlertInput{TriggeredBy: "u1", Location: home}, t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = NewAlert(NewAlertInput{TriggeredBy: "u1", Title: "x", Type: "fire", Location: home}, t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Contains(t, ae.Details["allowed"], AlertTypeSOS)
	_, err = NewAlert(NewAlertInput{TriggeredBy: "u1", Title: "x", Severity: "mild", Location: home}, t0)
	ae, ok = apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, Severities(), ae.Details["allowed"])
	_, err = NewAlert(NewAlertInput{TriggeredBy: "u1", Title: "x", Location: Location{Coordinates: Coordinates{0, -91}}}, t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestDefaultPriority(t *testing.T) {
	assert.Equal(t, 5, DefaultPriority(AlertTypeSOS, SeverityLow))
	assert.Equal(t, 2, DefaultPriority(AlertTypeManual, SeverityLow))
	assert.Equal(t, 4, DefaultPriority(AlertTypeCheckInOverdue, SeverityHigh))
	assert.Equal(t, 5, DefaultPriority(AlertTypeLocationSharing, SeverityCritical))
}

func TestAlertAcknowledgeResolveCancel(t *testing.T) {
	a := newAlert(t)
	_, err := a.Acknowledge("u2", ResponseOnMyWay, "", t0)
	require.NoError(t, err)
	assert.Equal(t, AlertAcknowledged, a.Status)
	require.Len(t, a.Acknowledgments, 1)

	require.NoError(t, a.Resolve("u1", "", "ok", t0))
	assert.Equal(t, AlertResolved, a.Status)
	assert.Equal(t, "u1", a.Resolution.ResolvedBy)
	assert.Equal(t, ResolutionSafe, a.Resolution.Status)

	assert.True(t, apperr.IsCode(a.Cancel("u1", "", t0), apperr.CodeInvalidTransition))
	assert.True(t, apperr.IsCode(a.Resolve("u1", "", "", t0), apperr.CodeInvalidTransition))
	assert.True(t, apperr.IsCode(a.MarkFalseAlarm("u1", "", t0), apperr.CodeInvalidTransition))

	// 终态下确认仍记录，但不回退状态
	_, err = a.Acknowledge("u3", ResponseMonitoring, "", t0)
	require.NoError(t, err)
	assert.Equal(t, AlertResolved, a.Status)
	assert.Len(t, a.Acknowledgments, 2)
}

func TestAlertTerminalGuards(t *testing.T) {
	terminate := map[string]func(a *Alert) error{
		AlertResolved:   func(a *Alert) error { return a.Resolve("u1", ResolutionHelpArrived, "", t0) },
		AlertCancelled:  func(a *Alert) error { return a.Cancel("u1", "mistap", t0) },
		AlertFalseAlarm: func(a *Alert) error { return a.MarkFalseAlarm("u1", "", t0) },
	}
	for status, fn := range terminate {
		a := newAlert(t)
		require.NoError(t, fn(a))
		assert.Equal(t, status, a.Status)
		assert.True(t, a.IsTerminal())
		for _, again := range terminate {
			assert.True(t, apperr.IsCode(again(a), apperr.CodeInvalidTransition), status)
		}
		assert.False(t, a.Escalate(t0.Add(time.Hour)))
		assert.Equal(t, status, a.Status)
	}
}

func TestAlertFalseAlarmResolution(t *testing.T) {
	a := newAlert(t)
	require.NoError(t, a.MarkFalseAlarm("u1", "pocket dial", t0))
	require.NotNil(t, a.Resolution)
	assert.Equal(t, ResolutionFalseAlarm, a.Resolution.Status)
}

func TestAlertAcknowledgeIdempotent(t *testing.T) {
	a := newAlert(t)
	_, err := a.Acknowledge("u2", ResponseMonitoring, "first", t0)
	require.NoError(t, err)
	_, err = a.Acknowledge("u2", ResponseOnMyWay, "second", t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, a.Acknowledgments, 1)
	ack, ok := a.AcknowledgmentBy("u2")
	require.True(t, ok)
	assert.Equal(t, ResponseOnMyWay, ack.Response)
	assert.Equal(t, "second", ack.Notes)

	_, err = a.Acknowledge("u2", "running", "", t0)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}

func TestAlertEscalation(t *testing.T) {
	a, err := NewAlert(NewAlertInput{TriggeredBy: "u1", Type: AlertTypeManual, Severity: SeverityLow, Title: "x", Location: home}, t0)
	require.NoError(t, err)
	assert.False(t, a.DueForEscalation(t0.Add(4*time.Minute)))
	assert.False(t, a.DueForEscalation(t0.Add(5*time.Minute)), "boundary is exclusive")
	assert.True(t, a.DueForEscalation(t0.Add(5*time.Minute+time.Second)))

	assert.True(t, a.Escalate(t0.Add(5*time.Minute)))
	assert.False(t, a.Escalate(t0.Add(6*time.Minute)))
	assert.Equal(t, MaxPriority, a.Priority)
	assert.True(t, a.AutoEscalate.Escalated)
	assert.False(t, a.DueForEscalation(t0.Add(time.Hour)))

	n := 0
	for _, e := range a.ActivityLog {
		if e.Action == ActivityEscalated {
			n++
		}
	}
	assert.Equal(t, 1, n)

	b := newAlert(t)
	_, err = b.Acknowledge("u2", "", "", t0)
	require.NoError(t, err)
	assert.False(t, b.DueForEscalation(t0.Add(time.Hour)), "acknowledged alerts are not swept")
}

func TestAlertNotificationLedger(t *testing.T) {
	a := newAlert(t)
	a.RecordNotification("u2", "push", t0)
	a.RecordFailedNotification("u3", "push", "no token", t0)
	require.Len(t, a.Notifications, 2)
	assert.Equal(t, NotificationFailed, a.Notifications[1].Status)
	assert.Equal(t, AlertActive, a.Status)
}

func TestComputeAlertStats(t *testing.T) {
	a := newAlert(t)
	b := newAlert(t)
	_, _ = b.Acknowledge("u2", "", "", t0)
	b.Escalate(t0)
	s := ComputeAlertStats([]Alert{*a, *b})
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.ByStatus[AlertActive])
	assert.Equal(t, 1, s.ByStatus[AlertAcknowledged])
	assert.Equal(t, 2, s.ByType[AlertTypePanic])
	assert.Equal(t, 1, s.Acknowledgments)
	assert.Equal(t, 1, s.Escalated)
}

func TestUserLockout(t *testing.T) {
	u := NewUser("A@B.com", "hash", "Ann", "", t0)
	assert.Equal(t, "a@b.com", u.Email)
	assert.Equal(t, DefaultPrivacy(), u.Privacy)
	for i := 0; i < 4; i++ {
		assert.False(t, u.RegisterFailedLogin(5, 2*time.Hour, t0))
	}
	assert.True(t, u.RegisterFailedLogin(5, 2*time.Hour, t0))
	assert.True(t, u.IsLocked(t0.Add(time.Hour)))
	assert.False(t, u.IsLocked(t0.Add(2*time.Hour)))
	u.RegisterLogin(t0)
	assert.Nil(t, u.LockUntil)

	assert.True(t, u.AddCircle("c1"))
	assert.False(t, u.AddCircle("c1"))
	assert.True(t, u.RemoveCircle("c1"))
	assert.False(t, u.HasCircle("c1"))

	u.Privacy.ShareLocationWithCircles = false
	assert.False(t, u.SharesLocation())
}

func TestPersistenceRoundTrip(t *testing.T) {
	db := newTestDB(t)

	u := NewUser("ann@example.com", "hash", "Ann", "", t0)
	require.NoError(t, db.Create(u).Error)
	assert.NotEmpty(t, u.ID)

	c := newCircle(t)
	c.CreatedBy = u.ID
	require.NoError(t, db.Create(c).Error)

	got, err := GetCircleByCode(db, "ABCDEFGH")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.True(t, got.Settings.AllowMemberInvites)
	require.Len(t, got.Members, 1)

	ci, err := NewCheckIn(u.ID, c.ID, home, t0.Add(time.Hour), "", t0)
	require.NoError(t, err)
	require.NoError(t, db.Create(ci).Error)

	overdue, err := FindOverdueCheckIns(db, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	list, err := ListCheckIns(db, CheckInQuery{UserID: u.ID, Status: CheckInOverdue}, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, CheckInOverdue, list[0].Status)

	a := newAlert(t)
	a.CircleID = c.ID
	require.NoError(t, db.Create(a).Error)
	due, err := FindAlertsNeedingEscalation(db, t0.Add(6*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)
}

func TestUpdateVersionedConflict(t *testing.T) {
	db := newTestDB(t)
	a := newAlert(t)
	require.NoError(t, db.Create(a).Error)

	first, err := GetAlertByID(db, a.ID)
	require.NoError(t, err)
	second, err := GetAlertByID(db, a.ID)
	require.NoError(t, err)

	_, err = first.Acknowledge("u2", "", "", t0)
	require.NoError(t, err)
	require.NoError(t, UpdateVersioned(db, first, t0))
	assert.Equal(t, int64(1), first.Version)

	require.NoError(t, second.Resolve("u1", "", "", t0))
	err = UpdateVersioned(db, second, t0)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(0), second.Version)

	stored, err := GetAlertByID(db, a.ID)
	require.NoError(t, err)
	assert.Equal(t, AlertAcknowledged, stored.Status)
	assert.Len(t, stored.Acknowledgments, 1)
}

func TestListAlertsFilters(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 3; i++ {
		a := newAlert(t)
		a.CircleID = fmt.Sprintf("c%d", i%2)
		if i == 2 {
			require.NoError(t, a.Cancel("u1", "", t0))
		}
		require.NoError(t, db.Create(a).Error)
	}
	rows, err := ListAlerts(db, AlertQuery{CircleIDs: []string{"c0"}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = ListAlerts(db, AlertQuery{CircleIDs: []string{"c0"}, Statuses: []string{AlertActive}})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = ListAlerts(db, AlertQuery{CircleIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
