package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"lifeline/internal/models"
	"lifeline/internal/recovery"
	"lifeline/internal/registry"
)

// mockNotifier is a hand-rolled dispatch collaborator.
type mockNotifier struct {
	mu           sync.Mutex
	calls        int
	lastSeverity int
	statuses     []models.DeliveryStatus
}

func (m *mockNotifier) NotifyEmergencyServices(ctx context.Context, sessionID string, severity int, location *models.GeoLocation) []models.DeliveryStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastSeverity = severity
	if m.statuses != nil {
		return m.statuses
	}
	return []models.DeliveryStatus{{Contact: "911", Delivered: true}}
}

func (m *mockNotifier) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// failingPublisher always errors, driving engine-protected operations to
// exhaustion.
type failingPublisher struct{}

func (failingPublisher) PublishSession(ctx context.Context, sessionID string, ev models.ServerEvent) error {
	return errors.New("fabric unreachable")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testEnv struct {
	reg      *registry.Registry
	coord    *Coordinator
	notifier *mockNotifier
}

func newTestEnv(publisher Publisher) *testEnv {
	logger := quietLogger()
	reg := registry.New(logger)
	notifier := &mockNotifier{}
	coord := New(reg, recovery.NewEngine(logger), publisher, notifier, Config{}, logger)
	return &testEnv{reg: reg, coord: coord, notifier: notifier}
}

func (e *testEnv) admitUser(id string) *models.Connection {
	conn := &models.Connection{
		ConnID:    id,
		Role:      models.RoleUser,
		WriteChan: make(chan models.ServerEvent, 32),
		StopChan:  make(chan struct{}),
	}
	e.reg.Admit(conn)
	return conn
}

func (e *testEnv) admitVolunteer(id string, profile *models.VolunteerProfile) *models.Connection {
	conn := &models.Connection{
		ConnID:    id,
		Role:      models.RoleVolunteer,
		WriteChan: make(chan models.ServerEvent, 32),
		StopChan:  make(chan struct{}),
	}
	e.reg.Admit(conn)
	if profile != nil {
		profile.ConnID = id
		e.reg.AddVolunteer(profile)
	}
	return conn
}

func (e *testEnv) admitProfessional(id string) *models.Connection {
	conn := &models.Connection{
		ConnID:    id,
		Role:      models.RoleProfessional,
		WriteChan: make(chan models.ServerEvent, 32),
		StopChan:  make(chan struct{}),
	}
	e.reg.Admit(conn)
	e.reg.AddProfessional(id)
	return conn
}

func drain(conn *models.Connection) []models.ServerEvent {
	var evs []models.ServerEvent
	for {
		select {
		case ev := <-conn.WriteChan:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func findEvent(evs []models.ServerEvent, typ string) *models.ServerEvent {
	for i := range evs {
		if evs[i].Type == typ {
			return &evs[i]
		}
	}
	return nil
}

func countEvents(evs []models.ServerEvent, typ string) int {
	n := 0
	for i := range evs {
		if evs[i].Type == typ {
			n++
		}
	}
	return n
}

func TestStartSessionMatchesBestVolunteer(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	env.admitVolunteer("v1", &models.VolunteerProfile{Name: "Ari", ExperienceYears: 1, Availability: models.AvailabilityImmediate})
	best := env.admitVolunteer("v2", &models.VolunteerProfile{
		Name:            "Blake",
		Languages:       []string{"en"},
		ExperienceYears: 8,
		Availability:    models.AvailabilityImmediate,
	})

	res, err := env.coord.StartSession(user, 5, models.MatchCriteria{Languages: []string{"en"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Volunteer == nil || res.Volunteer.Name != "Blake" {
		t.Fatalf("volunteer = %+v, want Blake", res.Volunteer)
	}
	if res.EstimatedResponseSec != 30 {
		t.Errorf("estimate = %d, want 30 for immediate availability", res.EstimatedResponseSec)
	}
	if res.State != models.SessionMatched {
		t.Errorf("state = %s, want matched", res.State)
	}

	if ev := findEvent(drain(user), models.EventCrisisMatch); ev == nil {
		t.Error("user did not receive crisis:match")
	}
	if ev := findEvent(drain(best), models.EventVolunteerMatched); ev == nil {
		t.Error("volunteer did not receive volunteer:matched")
	}

	// The winner is out of the pool and inside the session.
	if len(env.reg.VolunteerPool()) != 1 {
		t.Errorf("pool size = %d, want 1", len(env.reg.VolunteerPool()))
	}
	if best.SessionID != res.SessionID {
		t.Error("volunteer was not reassigned into the session")
	}
}

func TestStartSessionSkipsDisconnectedCandidate(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")

	// A stale pool entry: the connection behind it is already gone, so the
	// claim cannot bind it to the session. Matching must fall through to
	// the next candidate instead of handing the user a dead volunteer.
	env.reg.AddVolunteer(&models.VolunteerProfile{
		ConnID:          "gone",
		Name:            "Gone",
		ExperienceYears: 10,
		Availability:    models.AvailabilityImmediate,
	})
	reachable := env.admitVolunteer("v1", &models.VolunteerProfile{
		Name:         "Here",
		Availability: models.AvailabilityImmediate,
	})

	res, err := env.coord.StartSession(user, 5, models.MatchCriteria{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Volunteer == nil || res.Volunteer.Name != "Here" {
		t.Fatalf("volunteer = %+v, want the reachable candidate", res.Volunteer)
	}
	if reachable.SessionID != res.SessionID {
		t.Error("reachable volunteer was not bound to the session")
	}
	if len(env.reg.VolunteerPool()) != 0 {
		t.Error("the stale entry should be claimed out of the pool, not retried forever")
	}
}

func TestStartSessionEmptyPoolStillSucceeds(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	env.admitProfessional("p1")

	res, err := env.coord.StartSession(user, 10, models.MatchCriteria{})
	if err != nil {
		t.Fatalf("a full pool outage must not fail session start: %v", err)
	}
	if res.Volunteer != nil {
		t.Errorf("volunteer = %+v, want nil", res.Volunteer)
	}
	if !res.ProfessionalAssigned {
		t.Error("critical start with no volunteer should claim a professional")
	}

	snap := env.reg.Snapshot()
	if snap.ActiveSessions != 1 || snap.CriticalSessions != 1 {
		t.Errorf("counters = %+v", snap)
	}
}

func TestStartSessionSeverityValidation(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")

	for _, severity := range []int{-1, 11} {
		if _, err := env.coord.StartSession(user, severity, models.MatchCriteria{}); !IsValidation(err) {
			t.Errorf("severity %d: err = %v, want validation error", severity, err)
		}
	}
}

func TestStartSessionRejoinKeepsState(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")

	first, err := env.coord.StartSession(user, 5, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}

	again, err := env.coord.StartSession(user, 2, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	if !again.Rejoined {
		t.Error("second start on a live session should rejoin")
	}
	if again.SessionID != first.SessionID {
		t.Errorf("session id changed on rejoin: %s vs %s", again.SessionID, first.SessionID)
	}
	if again.Severity != 5 {
		t.Errorf("severity = %d, want the in-flight 5, not the new request's 2", again.Severity)
	}
}

func TestRelayMessageDeliversToOthers(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	vol := env.admitVolunteer("v1", &models.VolunteerProfile{Availability: models.AvailabilityImmediate})

	res, err := env.coord.StartSession(user, 4, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	drain(user)
	drain(vol)

	relay, err := env.coord.RelayMessage(user, res.SessionID, "I need to talk")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if relay.Delivered != 1 {
		t.Errorf("delivered = %d, want 1", relay.Delivered)
	}

	evs := drain(vol)
	msg := findEvent(evs, models.EventCrisisMessage)
	if msg == nil {
		t.Fatal("volunteer did not receive the message")
	}
	if msg.Content != "I need to talk" || msg.SenderRole != models.RoleUser {
		t.Errorf("event = %+v", msg)
	}
	if findEvent(drain(user), models.EventCrisisMessage) != nil {
		t.Error("sender must not receive their own message")
	}

	sess, _ := env.coord.Session(res.SessionID)
	if sess.State() != models.SessionActive {
		t.Errorf("state = %s, want active after first message", sess.State())
	}
}

func TestRelayMessageRejectsOversized(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, err := env.coord.StartSession(user, 4, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}

	atCap := strings.Repeat("a", 2000)
	if _, err := env.coord.RelayMessage(user, res.SessionID, atCap); err != nil {
		t.Errorf("2000 chars is within the cap: %v", err)
	}

	over := strings.Repeat("a", 2001)
	_, err = env.coord.RelayMessage(user, res.SessionID, over)
	if !IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}

	var verr *ValidationError
	errors.As(err, &verr)
	if verr.Field != "content" {
		t.Errorf("field = %s", verr.Field)
	}
}

func TestRelayMessageValidation(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 4, models.MatchCriteria{})

	if _, err := env.coord.RelayMessage(user, res.SessionID, ""); !IsValidation(err) {
		t.Errorf("empty content: err = %v, want validation error", err)
	}
	if _, err := env.coord.RelayMessage(user, "ghost", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
}

func TestEscalateCrossingCriticalNotifiesDispatch(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, err := env.coord.StartSession(user, 6, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	drain(user)

	out, err := env.coord.Escalate(res.SessionID, 3, "risk increased")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Severity != 9 {
		t.Errorf("severity = %d, want 9", out.Severity)
	}
	if out.State != models.SessionEscalated {
		t.Errorf("state = %s", out.State)
	}
	if env.notifier.callCount() != 1 {
		t.Errorf("dispatch calls = %d, want 1", env.notifier.callCount())
	}
	if len(out.Notified) == 0 {
		t.Error("delivery statuses missing")
	}

	evs := drain(user)
	if findEvent(evs, models.EventCrisisEscalated) == nil {
		t.Error("member did not receive crisis:escalated")
	}
	if findEvent(evs, models.EventEmergencyNotified) == nil {
		t.Error("member did not receive emergency:notified")
	}
}

func TestEscalateBelowCriticalDoesNotNotify(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 6, models.MatchCriteria{})
	drain(user)

	out, err := env.coord.Escalate(res.SessionID, 1, "slightly worse")
	if err != nil {
		t.Fatal(err)
	}
	if out.Severity != 7 {
		t.Errorf("severity = %d, want 7", out.Severity)
	}
	if env.notifier.callCount() != 0 {
		t.Errorf("dispatch calls = %d, want 0", env.notifier.callCount())
	}
	if findEvent(drain(user), models.EventEmergencyNotified) != nil {
		t.Error("emergency:notified must not fire below the threshold")
	}
}

func TestEscalateValidation(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})

	if _, err := env.coord.Escalate(res.SessionID, 0, ""); !IsValidation(err) {
		t.Errorf("zero delta: err = %v", err)
	}
	if _, err := env.coord.Escalate(res.SessionID, -2, ""); !IsValidation(err) {
		t.Errorf("negative delta: err = %v", err)
	}
	if _, err := env.coord.Escalate("ghost", 1, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown session: err = %v", err)
	}
}

func TestConcurrentEscalatesBothApply(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.coord.Escalate(res.SessionID, 3, "concurrent")
		}()
	}
	wg.Wait()

	sess, _ := env.coord.Session(res.SessionID)
	if got := sess.Severity(); got != 10 {
		t.Errorf("severity = %d, want both deltas applied and capped at 10", got)
	}
	if sess.State() != models.SessionEscalated {
		t.Errorf("state = %s", sess.State())
	}
}

func TestConcurrentEscalatesCountSessionOnce(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			env.coord.Escalate(res.SessionID, 1, "concurrent")
		}()
	}
	close(start)
	wg.Wait()

	if got := env.reg.Snapshot().EscalatedSessions; got != 1 {
		t.Fatalf("escalated sessions = %d, want 1 regardless of how many escalates raced", got)
	}

	if _, err := env.coord.EndSession(res.SessionID, models.OutcomeResolved); err != nil {
		t.Fatal(err)
	}
	if got := env.reg.Snapshot().EscalatedSessions; got != 0 {
		t.Errorf("escalated sessions = %d after close, want 0", got)
	}
}

func TestTransferVolunteerSwapsMembership(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	first := env.admitVolunteer("v1", &models.VolunteerProfile{Name: "First", ExperienceYears: 5, Availability: models.AvailabilityImmediate})
	env.admitVolunteer("v2", &models.VolunteerProfile{Name: "Second", ExperienceYears: 2, Availability: models.AvailabilityImmediate})

	res, err := env.coord.StartSession(user, 5, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Volunteer.Name != "First" {
		t.Fatalf("setup: matched %s, want the more experienced volunteer", res.Volunteer.Name)
	}
	drain(user)

	out, err := env.coord.TransferVolunteer(res.SessionID, nil, "not a good fit", "normal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Volunteer.Name != "Second" {
		t.Errorf("new volunteer = %s, want Second", out.Volunteer.Name)
	}

	// Exactly one volunteer in the session; the old one fully out.
	if first.SessionID != "" {
		t.Error("old volunteer still carries the session id")
	}
	for _, m := range env.reg.SessionMembers(res.SessionID) {
		if m.ConnID == "v1" {
			t.Error("old volunteer still a session member")
		}
	}
	if findEvent(drain(user), models.EventVolunteerJoined) == nil {
		t.Error("session did not hear about the new volunteer")
	}
}

func TestTransferVolunteerExhaustedPool(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})

	_, err := env.coord.TransferVolunteer(res.SessionID, nil, "", "")
	if !errors.Is(err, ErrNoVolunteersAvailable) {
		t.Fatalf("err = %v, want ErrNoVolunteersAvailable", err)
	}
}

func TestEndSessionBroadcastsAndReleases(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	vol := env.admitVolunteer("v1", &models.VolunteerProfile{Availability: models.AvailabilityImmediate})
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})
	drain(user)
	drain(vol)

	out, err := env.coord.EndSession(res.SessionID, models.OutcomeResolved)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != models.OutcomeResolved {
		t.Errorf("outcome = %s", out.Outcome)
	}

	ended := findEvent(drain(user), models.EventCrisisEnded)
	if ended == nil {
		t.Fatal("user did not receive crisis:ended")
	}
	if ended.DurationSeconds < 0 {
		t.Errorf("duration = %v", ended.DurationSeconds)
	}

	if got := env.reg.Snapshot().ActiveSessions; got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
	if len(env.reg.SessionMembers(res.SessionID)) != 0 {
		t.Error("session members were not released")
	}
	if user.SessionID != "" || vol.SessionID != "" {
		t.Error("members still carry the session id")
	}

	if _, err := env.coord.EndSession(res.SessionID, models.OutcomeResolved); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("double end: err = %v", err)
	}
}

func TestRelayMessageDegradesToBypassOnTotalFailure(t *testing.T) {
	env := newTestEnv(failingPublisher{})
	user := env.admitUser("u1")
	vol := env.admitVolunteer("v1", &models.VolunteerProfile{Availability: models.AvailabilityImmediate})
	res, err := env.coord.StartSession(user, 9, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	drain(user)
	drain(vol)

	relay, err := env.coord.RelayMessage(user, res.SessionID, "hello")
	if err != nil {
		t.Fatalf("a crisis user must never see a raw delivery error: %v", err)
	}
	if relay.Bypass == nil {
		t.Fatal("expected the emergency bypass payload")
	}

	var contacts []string
	for _, c := range relay.Bypass.Contacts {
		contacts = append(contacts, c.Contact)
	}
	joined := strings.Join(contacts, " ")
	for _, want := range []string{"988", "911", "741741"} {
		if !strings.Contains(joined, want) {
			t.Errorf("bypass contacts missing %q: %v", want, contacts)
		}
	}

	evs := drain(user)
	if findEvent(evs, models.EventCrisisUrgent) == nil {
		t.Error("session did not receive crisis:urgent with the bypass")
	}

	// The retries cover only the publish; the local member already has the
	// message and must not get it again per attempt.
	if got := countEvents(drain(vol), models.EventCrisisMessage); got != 1 {
		t.Errorf("volunteer received the message %d times, want exactly 1", got)
	}
}

func TestEscalatePagesDispatchOnceDespiteRetries(t *testing.T) {
	env := newTestEnv(failingPublisher{})
	user := env.admitUser("u1")
	res, err := env.coord.StartSession(user, 9, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	drain(user)

	out, err := env.coord.Escalate(res.SessionID, 1, "worsening")
	if err != nil {
		t.Fatal(err)
	}
	if out.Bypass == nil {
		t.Fatal("expected the emergency bypass payload after publish exhaustion")
	}

	if got := env.notifier.callCount(); got != 1 {
		t.Errorf("dispatch calls = %d, want exactly 1", got)
	}
	if got := countEvents(drain(user), models.EventCrisisEscalated); got != 1 {
		t.Errorf("member received crisis:escalated %d times, want exactly 1", got)
	}
}

func TestJoinAsVolunteer(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})
	drain(user)

	vol := env.admitVolunteer("v1", &models.VolunteerProfile{Name: "Sam"})
	if err := env.coord.JoinAsVolunteer(vol, res.SessionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vol.SessionID != res.SessionID {
		t.Error("volunteer not reassigned into the session")
	}
	if len(env.reg.VolunteerPool()) != 0 {
		t.Error("accepting a match must take the volunteer out of the pool")
	}
	joined := findEvent(drain(user), models.EventVolunteerJoined)
	if joined == nil || joined.Volunteer == nil || joined.Volunteer.Name != "Sam" {
		t.Errorf("volunteer:joined = %+v", joined)
	}
}

func TestTakeoverResolvesEscalation(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 6, models.MatchCriteria{})
	if _, err := env.coord.Escalate(res.SessionID, 2, "worsening"); err != nil {
		t.Fatal(err)
	}
	drain(user)

	pro := env.admitProfessional("p1")
	if err := env.coord.TakeoverAsProfessional(pro, res.SessionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sess, _ := env.coord.Session(res.SessionID)
	if sess.State() != models.SessionActive {
		t.Errorf("state = %s, want active after the escalation is handled", sess.State())
	}
	if env.reg.Snapshot().EscalatedSessions != 0 {
		t.Error("escalated counter not released")
	}
	if findEvent(drain(user), models.EventProfessionalJoined) == nil {
		t.Error("user did not hear about the takeover")
	}
}

func TestHandledEscalationReturnsToActiveNotMatched(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	env.admitVolunteer("v1", &models.VolunteerProfile{Availability: models.AvailabilityImmediate})

	res, err := env.coord.StartSession(user, 5, models.MatchCriteria{})
	if err != nil {
		t.Fatal(err)
	}
	if res.State != models.SessionMatched {
		t.Fatalf("setup: state = %s, want matched", res.State)
	}
	if _, err := env.coord.Escalate(res.SessionID, 2, "risk increased"); err != nil {
		t.Fatal(err)
	}

	pro := env.admitProfessional("p1")
	if err := env.coord.TakeoverAsProfessional(pro, res.SessionID); err != nil {
		t.Fatal(err)
	}

	sess, _ := env.coord.Session(res.SessionID)
	if got := sess.State(); got != models.SessionActive {
		t.Errorf("state = %s, want active: a handled escalation never rewinds to the pre-escalation state", got)
	}
}

func TestRecordNotesOnlyReachesProfessionals(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})

	proA := env.admitProfessional("p1")
	proB := env.admitProfessional("p2")
	env.coord.TakeoverAsProfessional(proA, res.SessionID)
	env.reg.ReassignSession("p2", res.SessionID)
	drain(user)
	drain(proA)
	drain(proB)

	if err := env.coord.RecordNotes(proA, res.SessionID, "assessment pending"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if findEvent(drain(user), models.EventProfessionalNotes) != nil {
		t.Error("notes must never reach the user")
	}
	if findEvent(drain(proB), models.EventProfessionalNotes) == nil {
		t.Error("other professional should receive the notes")
	}

	if err := env.coord.RecordNotes(user, res.SessionID, "nope"); !IsValidation(err) {
		t.Errorf("non-professional notes: err = %v", err)
	}
}

func TestRecordAssessmentEscalatesUpward(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	res, _ := env.coord.StartSession(user, 5, models.MatchCriteria{})

	pro := env.admitProfessional("p1")
	env.coord.TakeoverAsProfessional(pro, res.SessionID)

	if err := env.coord.RecordAssessment(pro, res.SessionID, 8); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sess, _ := env.coord.Session(res.SessionID)
	if got := sess.Severity(); got != 8 {
		t.Errorf("severity = %d, want 8", got)
	}

	if err := env.coord.RecordAssessment(pro, res.SessionID, 12); !IsValidation(err) {
		t.Errorf("out-of-range risk: err = %v", err)
	}
	if err := env.coord.RecordAssessment(user, res.SessionID, 3); !IsValidation(err) {
		t.Errorf("non-professional assessment: err = %v", err)
	}
}

func TestUpdateLocationBroadcasts(t *testing.T) {
	env := newTestEnv(nil)
	user := env.admitUser("u1")
	vol := env.admitVolunteer("v1", &models.VolunteerProfile{Availability: models.AvailabilityImmediate})
	env.coord.StartSession(user, 5, models.MatchCriteria{})
	drain(user)
	drain(vol)

	loc := &models.GeoLocation{Latitude: 40.7, Longitude: -74.0}
	env.coord.UpdateLocation(user, loc)

	got, _ := env.reg.Get("u1")
	if got.Location == nil || got.Location.Latitude != 40.7 {
		t.Error("location not recorded")
	}
	ev := findEvent(drain(vol), models.EventLocationUpdated)
	if ev == nil || ev.Location == nil {
		t.Fatal("session did not receive location:updated")
	}
	if findEvent(drain(user), models.EventLocationUpdated) != nil {
		t.Error("reporter should not receive their own location event")
	}
}
