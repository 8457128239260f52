package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/alecgard/rolewarden/internal/metrics"
	"github.com/alecgard/rolewarden/internal/platform"
	"github.com/jackc/pgx/v5"
)

const (
	testTrialRole = "trial-role"
	testOwner     = "owner-1"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeStore is an in-memory implementation of Store.
type fakeStore struct {
	trials  map[string]*grant.TrialGrant
	configs map[string]*grant.RoleConfig
	grants  []*grant.RoleGrant
	nextID  int64
	writes  int // trial upserts + grant adds + config puts
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trials:  make(map[string]*grant.TrialGrant),
		configs: make(map[string]*grant.RoleConfig),
	}
}

func (s *fakeStore) UpsertTrial(_ context.Context, t grant.TrialGrant) error {
	s.writes++
	cp := t
	s.trials[t.UserID] = &cp
	return nil
}

func (s *fakeStore) GetTrial(_ context.Context, userID string) (*grant.TrialGrant, error) {
	t, ok := s.trials[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (s *fakeStore) DeleteTrial(_ context.Context, userID string) error {
	if _, ok := s.trials[userID]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.trials, userID)
	return nil
}

func (s *fakeStore) ListUsedTrials(context.Context) ([]*grant.TrialGrant, error) {
	var out []*grant.TrialGrant
	for _, t := range s.trials {
		if t.Used {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) PutRoleConfig(_ context.Context, rc grant.RoleConfig) error {
	s.writes++
	cp := rc
	s.configs[rc.RoleID] = &cp
	return nil
}

func (s *fakeStore) GetRoleConfig(_ context.Context, roleID string) (*grant.RoleConfig, error) {
	rc, ok := s.configs[roleID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return rc, nil
}

func (s *fakeStore) ListRoleConfigs(context.Context) ([]*grant.RoleConfig, error) {
	var out []*grant.RoleConfig
	for _, rc := range s.configs {
		out = append(out, rc)
	}
	return out, nil
}

func (s *fakeStore) DeleteRoleConfig(_ context.Context, roleID string) error {
	if _, ok := s.configs[roleID]; !ok {
		return pgx.ErrNoRows
	}
	delete(s.configs, roleID)
	return nil
}

func (s *fakeStore) AddRoleGrant(_ context.Context, userID, roleID string, durationDays int, start time.Time) (*grant.RoleGrant, error) {
	s.writes++
	s.nextID++
	g := &grant.RoleGrant{
		ID:           s.nextID,
		UserID:       userID,
		RoleID:       roleID,
		StartTime:    start,
		EndTime:      start.Add(grant.DaysDuration(durationDays)),
		DurationDays: durationDays,
	}
	s.grants = append(s.grants, g)
	return g, nil
}

func (s *fakeStore) ListRoleGrantsByUser(_ context.Context, userID string) ([]*grant.RoleGrant, error) {
	var out []*grant.RoleGrant
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *fakeStore) ListActiveRoleGrants(_ context.Context, now time.Time) ([]*grant.RoleGrant, error) {
	var out []*grant.RoleGrant
	for _, g := range s.grants {
		if g.EndTime.After(now) {
			out = append(out, g)
		}
	}
	return out, nil
}

// fakePlatform is an in-memory guild.
type fakePlatform struct {
	members   map[string][]string
	roles     map[string]string
	ownerID   string
	grantErr  error
	revokeErr error
	grants    []string
	revokes   []string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		members: make(map[string][]string),
		roles:   map[string]string{testTrialRole: "Trial"},
		ownerID: testOwner,
	}
}

func (f *fakePlatform) ResolveMember(_ context.Context, userID string) (*platform.Member, error) {
	roles, ok := f.members[userID]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", grant.ErrNotFound, userID)
	}
	return &platform.Member{UserID: userID, RoleIDs: roles}, nil
}

func (f *fakePlatform) ResolveRole(_ context.Context, roleID string) (*platform.Role, error) {
	name, ok := f.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("%w: role %s", grant.ErrNotFound, roleID)
	}
	return &platform.Role{ID: roleID, Name: name}, nil
}

func (f *fakePlatform) GrantRole(_ context.Context, userID, roleID string) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	f.grants = append(f.grants, userID+":"+roleID)
	f.members[userID] = append(f.members[userID], roleID)
	return nil
}

func (f *fakePlatform) RevokeRole(_ context.Context, userID, roleID string) error {
	f.revokes = append(f.revokes, userID+":"+roleID)
	if f.revokeErr != nil {
		return f.revokeErr
	}
	kept := f.members[userID][:0]
	for _, id := range f.members[userID] {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	f.members[userID] = kept
	return nil
}

func (f *fakePlatform) GuildOwnerID(context.Context) (string, error) {
	return f.ownerID, nil
}

func newTestController(store *fakeStore, pc *fakePlatform) *Controller {
	c := NewController(store, pc, testTrialRole, 2*time.Hour, metrics.New())
	c.now = func() time.Time { return testNow }
	return c
}

func timePtr(t time.Time) *time.Time { return &t }

// ---------------------------------------------------------------------------
// StartTrial
// ---------------------------------------------------------------------------

func TestStartTrialFirstTime(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	status, err := c.StartTrial(context.Background(), "u1")
	if err != nil {
		t.Fatalf("StartTrial failed: %v", err)
	}
	if status.State != TrialActive {
		t.Errorf("expected TrialActive, got %v", status.State)
	}
	if status.Remaining != 2*time.Hour {
		t.Errorf("expected full duration remaining, got %v", status.Remaining)
	}
	if len(pc.grants) != 1 || pc.grants[0] != "u1:"+testTrialRole {
		t.Errorf("expected trial role grant, got %v", pc.grants)
	}

	rec := store.trials["u1"]
	if rec == nil || !rec.Used || rec.StartTime == nil || !rec.StartTime.Equal(testNow) {
		t.Errorf("unexpected trial record: %+v", rec)
	}
}

func TestStartTrialAlreadyUsed(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	// Consumed long ago; expired does not matter.
	store.trials["u1"] = &grant.TrialGrant{
		UserID:    "u1",
		StartTime: timePtr(testNow.Add(-48 * time.Hour)),
		Used:      true,
	}
	writesBefore := store.writes

	_, err := c.StartTrial(context.Background(), "u1")
	if !errors.Is(err, grant.ErrAlreadyUsed) {
		t.Fatalf("expected ErrAlreadyUsed, got %v", err)
	}
	if len(pc.grants) != 0 {
		t.Error("no role must be granted on rejection")
	}
	if store.writes != writesBefore {
		t.Error("rejection must not mutate the store")
	}
}

func TestStartTrialAlreadyActive(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	store.trials["u1"] = &grant.TrialGrant{
		UserID:    "u1",
		StartTime: timePtr(testNow.Add(-time.Hour)),
	}
	writesBefore := store.writes

	_, err := c.StartTrial(context.Background(), "u1")
	if !errors.Is(err, grant.ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if len(pc.grants) != 0 || store.writes != writesBefore {
		t.Error("rejection must not grant roles or mutate the store")
	}
}

func TestStartTrialPlatformFailureLeavesStoreUntouched(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	pc.grantErr = grant.ErrPermissionDenied
	c := newTestController(store, pc)

	_, err := c.StartTrial(context.Background(), "u1")
	if !errors.Is(err, grant.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if store.writes != 0 {
		t.Error("a failed platform grant must not write to the store")
	}
	if _, ok := store.trials["u1"]; ok {
		t.Error("no trial record may exist after a failed grant")
	}
}

// ---------------------------------------------------------------------------
// CheckTrial
// ---------------------------------------------------------------------------

func TestCheckTrialNotApplied(t *testing.T) {
	c := newTestController(newFakeStore(), newFakePlatform())

	status, err := c.CheckTrial(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("CheckTrial failed: %v", err)
	}
	if status.State != TrialNotApplied {
		t.Errorf("expected TrialNotApplied, got %v", status.State)
	}
}

func TestCheckTrialActive(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, newFakePlatform())

	store.trials["u1"] = &grant.TrialGrant{
		UserID:    "u1",
		StartTime: timePtr(testNow.Add(-30 * time.Minute)),
		Used:      true,
	}

	status, err := c.CheckTrial(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CheckTrial failed: %v", err)
	}
	if status.State != TrialActive {
		t.Fatalf("expected TrialActive, got %v", status.State)
	}
	if status.Remaining != 90*time.Minute {
		t.Errorf("expected 90m remaining, got %v", status.Remaining)
	}
}

func TestCheckTrialExpiredRevokesOnce(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	store.trials["u1"] = &grant.TrialGrant{
		UserID:    "u1",
		StartTime: timePtr(testNow.Add(-3 * time.Hour)),
		Used:      true,
	}
	pc.members["u1"] = []string{testTrialRole}

	status, err := c.CheckTrial(context.Background(), "u1")
	if err != nil {
		t.Fatalf("CheckTrial failed: %v", err)
	}
	if status.State != TrialEnded || !status.Revoked {
		t.Fatalf("expected ended+revoked, got %+v", status)
	}

	// Second check finds the role already gone: no second revoke.
	status, err = c.CheckTrial(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second CheckTrial failed: %v", err)
	}
	if status.Revoked {
		t.Error("second check must not revoke again")
	}
	if len(pc.revokes) != 1 {
		t.Errorf("expected exactly 1 revoke, got %d", len(pc.revokes))
	}
}

func TestCheckTrialExpiredMemberLeft(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	store.trials["gone"] = &grant.TrialGrant{
		UserID:    "gone",
		StartTime: timePtr(testNow.Add(-3 * time.Hour)),
		Used:      true,
	}

	status, err := c.CheckTrial(context.Background(), "gone")
	if err != nil {
		t.Fatalf("CheckTrial failed: %v", err)
	}
	if status.State != TrialEnded || status.Revoked || status.RevokeErr != nil {
		t.Errorf("departed member should end cleanly, got %+v", status)
	}
}

func TestCheckTrialExpiredOwnerExempt(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	store.trials[testOwner] = &grant.TrialGrant{
		UserID:    testOwner,
		StartTime: timePtr(testNow.Add(-3 * time.Hour)),
		Used:      true,
	}
	pc.members[testOwner] = []string{testTrialRole}

	status, err := c.CheckTrial(context.Background(), testOwner)
	if err != nil {
		t.Fatalf("CheckTrial failed: %v", err)
	}
	if !errors.Is(status.RevokeErr, grant.ErrOwnerExempt) {
		t.Errorf("expected ErrOwnerExempt, got %v", status.RevokeErr)
	}
	if len(pc.revokes) != 0 {
		t.Error("no revoke may be attempted against the guild owner")
	}
}

// ---------------------------------------------------------------------------
// IssueGrant
// ---------------------------------------------------------------------------

func intPtr(n int) *int { return &n }

func TestIssueGrantExplicitDuration(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	g, err := c.IssueGrant(context.Background(), "u1", "vip", intPtr(3))
	if err != nil {
		t.Fatalf("IssueGrant failed: %v", err)
	}
	wantEnd := testNow.Add(72 * time.Hour)
	if !g.EndTime.Equal(wantEnd) {
		t.Errorf("end time = %v, want %v", g.EndTime, wantEnd)
	}
	if g.DurationDays != 3 {
		t.Errorf("duration days = %d, want 3", g.DurationDays)
	}
	// Recomputing from frozen creation parameters reproduces EndTime.
	if !g.StartTime.Add(grant.DaysDuration(g.DurationDays)).Equal(g.EndTime) {
		t.Error("end time must equal start + duration exactly")
	}
	if len(pc.grants) != 1 {
		t.Errorf("expected 1 platform grant, got %d", len(pc.grants))
	}
}

func TestIssueGrantInvalidDuration(t *testing.T) {
	for _, days := range []int{0, -1, -30} {
		store := newFakeStore()
		pc := newFakePlatform()
		c := newTestController(store, pc)

		_, err := c.IssueGrant(context.Background(), "u1", "vip", intPtr(days))
		if !errors.Is(err, grant.ErrInvalidArgument) {
			t.Errorf("days=%d: expected ErrInvalidArgument, got %v", days, err)
		}
		if len(pc.grants) != 0 || store.writes != 0 {
			t.Errorf("days=%d: invalid duration must have no effect", days)
		}
	}
}

func TestIssueGrantUsesConfiguredDefault(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	store.configs["vip"] = &grant.RoleConfig{RoleID: "vip", RoleName: "VIP", DurationDays: 7}

	g, err := c.IssueGrant(context.Background(), "u1", "vip", nil)
	if err != nil {
		t.Fatalf("IssueGrant failed: %v", err)
	}
	if g.DurationDays != 7 {
		t.Errorf("duration days = %d, want configured 7", g.DurationDays)
	}
}

func TestIssueGrantNotConfigured(t *testing.T) {
	c := newTestController(newFakeStore(), newFakePlatform())

	_, err := c.IssueGrant(context.Background(), "u1", "vip", nil)
	if !errors.Is(err, grant.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestIssueGrantPlatformFailureLeavesStoreUntouched(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	pc.grantErr = grant.ErrTransient
	c := newTestController(store, pc)

	_, err := c.IssueGrant(context.Background(), "u1", "vip", intPtr(3))
	if !errors.Is(err, grant.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if store.writes != 0 || len(store.grants) != 0 {
		t.Error("a failed platform grant must not create a grant record")
	}
}

// ---------------------------------------------------------------------------
// SweepNow
// ---------------------------------------------------------------------------

func TestSweepNowCounts(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	// active: checked only
	store.trials["active"] = &grant.TrialGrant{
		UserID: "active", StartTime: timePtr(testNow.Add(-time.Hour)), Used: true,
	}
	pc.members["active"] = []string{testTrialRole}

	// expired and holding: removed
	store.trials["holding"] = &grant.TrialGrant{
		UserID: "holding", StartTime: timePtr(testNow.Add(-3 * time.Hour)), Used: true,
	}
	pc.members["holding"] = []string{testTrialRole}

	// expired, role already gone: already removed
	store.trials["bare"] = &grant.TrialGrant{
		UserID: "bare", StartTime: timePtr(testNow.Add(-3 * time.Hour)), Used: true,
	}
	pc.members["bare"] = []string{}

	// expired, left the guild: failed
	store.trials["gone"] = &grant.TrialGrant{
		UserID: "gone", StartTime: timePtr(testNow.Add(-3 * time.Hour)), Used: true,
	}

	// expired guild owner holding the role: already removed, not failed
	store.trials[testOwner] = &grant.TrialGrant{
		UserID: testOwner, StartTime: timePtr(testNow.Add(-3 * time.Hour)), Used: true,
	}
	pc.members[testOwner] = []string{testTrialRole}

	summary, err := c.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow failed: %v", err)
	}

	want := Summary{Checked: 5, Expired: 4, Removed: 1, AlreadyRemoved: 2, Failed: 1}
	if *summary != want {
		t.Errorf("summary = %+v, want %+v", *summary, want)
	}
	if len(pc.revokes) != 1 {
		t.Errorf("expected exactly 1 revoke, got %d", len(pc.revokes))
	}
}

func TestSweepNowTrialRoleMissing(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	delete(pc.roles, testTrialRole)
	c := newTestController(store, pc)

	if _, err := c.SweepNow(context.Background()); !errors.Is(err, grant.ErrNotFound) {
		t.Fatalf("expected ErrNotFound when trial role is missing, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Role configs and admin operations
// ---------------------------------------------------------------------------

func TestPutRoleConfigValidation(t *testing.T) {
	c := newTestController(newFakeStore(), newFakePlatform())

	if _, err := c.PutRoleConfig(context.Background(), "vip", "VIP", 0); !errors.Is(err, grant.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for zero days, got %v", err)
	}

	rc, err := c.PutRoleConfig(context.Background(), "vip", "VIP", 30)
	if err != nil {
		t.Fatalf("PutRoleConfig failed: %v", err)
	}
	if rc.DurationDays != 30 || !rc.CreatedAt.Equal(testNow) {
		t.Errorf("unexpected config: %+v", rc)
	}
}

func TestDeleteRoleConfigNotFound(t *testing.T) {
	c := newTestController(newFakeStore(), newFakePlatform())

	if err := c.DeleteRoleConfig(context.Background(), "vip"); !errors.Is(err, grant.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRoleConfigLeavesGrantsIntact(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	if _, err := c.PutRoleConfig(context.Background(), "vip", "VIP", 3); err != nil {
		t.Fatal(err)
	}
	g, err := c.IssueGrant(context.Background(), "u1", "vip", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteRoleConfig(context.Background(), "vip"); err != nil {
		t.Fatal(err)
	}

	reports, err := c.MemberGrants(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 || !reports[0].Grant.EndTime.Equal(g.EndTime) {
		t.Error("deleting a role config must not touch issued grants")
	}
	if !reports[0].Active {
		t.Error("grant should still be active")
	}
}

func TestDeleteTrial(t *testing.T) {
	store := newFakeStore()
	c := newTestController(store, newFakePlatform())

	if err := c.DeleteTrial(context.Background(), "u1"); !errors.Is(err, grant.ErrNotFound) {
		t.Errorf("expected ErrNotFound for absent record, got %v", err)
	}

	store.trials["u1"] = &grant.TrialGrant{UserID: "u1", Used: true}
	if err := c.DeleteTrial(context.Background(), "u1"); err != nil {
		t.Fatalf("DeleteTrial failed: %v", err)
	}
	if _, ok := store.trials["u1"]; ok {
		t.Error("trial record should be gone")
	}
}

func TestTrialStatusesIsPureReporting(t *testing.T) {
	store := newFakeStore()
	pc := newFakePlatform()
	c := newTestController(store, pc)

	store.trials["active"] = &grant.TrialGrant{
		UserID: "active", StartTime: timePtr(testNow.Add(-time.Hour)), Used: true,
	}
	store.trials["ended"] = &grant.TrialGrant{
		UserID: "ended", StartTime: timePtr(testNow.Add(-3 * time.Hour)), Used: true,
	}
	pc.members["ended"] = []string{testTrialRole}
	writesBefore := store.writes

	reports, err := c.TrialStatuses(context.Background())
	if err != nil {
		t.Fatalf("TrialStatuses failed: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	states := make(map[string]TrialState)
	for _, r := range reports {
		states[r.UserID] = r.State
	}
	if states["active"] != TrialActive || states["ended"] != TrialEnded {
		t.Errorf("unexpected states: %v", states)
	}
	if store.writes != writesBefore || len(pc.revokes) != 0 {
		t.Error("bulk check must not mutate anything")
	}
}
