package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tipidbuddy/tipidbuddy-server/internal/identity"
	"github.com/tipidbuddy/tipidbuddy-server/internal/kv"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) nextDay(days int) {
	c.mu.Lock()
	c.now = c.now.AddDate(0, 0, days)
	c.mu.Unlock()
}

type fixture struct {
	ledger   *Ledger
	store    *kv.MemoryStore
	clock    *fakeClock
	profiles *identity.Directory
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := kv.NewMemoryStore()
	clock := &fakeClock{now: time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)}
	profiles := identity.NewDirectory(store, time.Minute)
	all := append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		ledger:   New(store, kv.NewMemoryLocker(), profiles, all...),
		store:    store,
		clock:    clock,
		profiles: profiles,
	}
}

func (f *fixture) user(t *testing.T, id, name string) identity.Identity {
	t.Helper()
	who := identity.Identity{UserID: id, Email: id + "@example.com", DisplayName: name}
	_, err := f.profiles.Ensure(context.Background(), who)
	require.NoError(t, err)
	return who
}

// requireConsistent checks that the members list matches the live member records.
func (f *fixture) requireConsistent(t *testing.T, groupID string) {
	t.Helper()
	g, err := f.ledger.GetGroup(context.Background(), groupID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, g.BestStreak, g.CurrentStreak)

	prefix := memberKey(groupID, "")
	var recorded []string
	for _, key := range f.store.Keys(prefix) {
		recorded = append(recorded, strings.TrimPrefix(key, prefix))
	}
	listed := append([]string(nil), g.Members...)
	sort.Strings(listed)
	require.Equal(t, listed, recorded)
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCreateGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")

	g, err := f.ledger.CreateGroup(ctx, "  Barkada ", amount(50), alice)
	require.NoError(t, err)
	require.Equal(t, "Barkada", g.Name)
	require.Equal(t, []string{"alice"}, g.Members)
	require.True(t, validInviteCode(g.InviteCode), g.InviteCode)
	require.Zero(t, g.CurrentStreak)
	require.Zero(t, g.BestStreak)
	f.requireConsistent(t, g.ID)

	groups, err := f.ledger.ListGroups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	require.Equal(t, g.ID, groups[0].ID)

	found, err := f.ledger.FindByInviteCode(ctx, strings.ToLower(g.InviteCode))
	require.NoError(t, err)
	require.Equal(t, g.ID, found.ID)
}

func TestCreateGroup_Validation(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", "Alice")

	_, err := f.ledger.CreateGroup(context.Background(), "   ", amount(10), alice)
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = f.ledger.CreateGroup(context.Background(), "Ipon", amount(-1), alice)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.ledger.CreateGroup(context.Background(), "Ipon", decimal.New(1, 400), alice)
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.ledger.CreateGroup(context.Background(), "Ipon", decimal.New(1, -100000000), alice)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestValidAmount_RoundsToScale(t *testing.T) {
	got, err := validAmount(decimal.RequireFromString("12.3456789012"))
	require.NoError(t, err)
	require.Equal(t, "12.3456789", got.String())

	got, err = validAmount(decimal.RequireFromString("0.000000001"))
	require.NoError(t, err)
	require.True(t, got.IsZero())

	got, err = validAmount(decimal.New(1, maxAmountExponent))
	require.NoError(t, err)
	require.True(t, got.Equal(maxAmount))
}

func TestSubmit_AfterTinyAmountKeepsTotalsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)

	res, err := f.ledger.Submit(ctx, g.ID, "alice", decimal.RequireFromString("0.1234567891234"))
	require.NoError(t, err)
	require.Equal(t, "0.12345679", res.Member.TotalContributions.String())
	require.GreaterOrEqual(t, res.Member.TotalContributions.Exponent(), int32(-maxAmountScale))
}

func TestCreateGroup_InviteCodeCollision(t *testing.T) {
	zeros := bytes.Repeat([]byte{0}, inviteCodeLength*2)
	ones := bytes.Repeat([]byte{1}, inviteCodeLength*2)

	f := newFixture(t, WithRandom(bytes.NewReader(zeros)))
	alice := f.user(t, "alice", "Alice")
	first, err := f.ledger.CreateGroup(context.Background(), "First", amount(10), alice)
	require.NoError(t, err)
	require.Equal(t, "AAAAAA", first.InviteCode)

	// The next draw collides once, then yields a fresh code.
	f.ledger.random = bytes.NewReader(append(append([]byte{}, zeros...), ones...))
	second, err := f.ledger.CreateGroup(context.Background(), "Second", amount(10), alice)
	require.NoError(t, err)
	require.Equal(t, "BBBBBB", second.InviteCode)

	// A source that only ever yields taken codes gives up.
	f.ledger.random = bytes.NewReader(bytes.Repeat([]byte{0}, inviteCodeLength*2*maxInviteCodeAttempts))
	_, err = f.ledger.CreateGroup(context.Background(), "Third", amount(10), alice)
	require.ErrorIs(t, err, ErrInviteCodeExhausted)
	require.Len(t, f.store.Keys("invite:"), 2)
	require.Len(t, f.store.Keys("group:"), 4) // two groups plus one member record each

	groups, err := f.ledger.ListGroups(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, groups, 2)
}

func TestGenerateInviteCode_SkipsBiasedBytes(t *testing.T) {
	src := append(bytes.Repeat([]byte{255}, 6), []byte{0, 1, 2, 35, 36, 71}...)
	code, err := generateInviteCode(bytes.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, "ABC9A9", code)
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	f.user(t, "bob", "Bob")

	g, err := f.ledger.CreateGroup(ctx, "Barkada", amount(50), alice)
	require.NoError(t, err)

	joined, err := f.ledger.Join(ctx, " "+strings.ToLower(g.InviteCode)+" ", "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, joined.Members)
	f.requireConsistent(t, g.ID)

	_, err = f.ledger.Join(ctx, g.InviteCode, "bob")
	require.ErrorIs(t, err, ErrAlreadyMember)

	groups, err := f.ledger.ListGroups(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, groups, 1)
}

func TestJoin_UnknownCodeMutatesNothing(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice", "Alice")
	_, err := f.ledger.CreateGroup(context.Background(), "Barkada", amount(50), alice)
	require.NoError(t, err)
	before := f.store.Keys("")

	_, err = f.ledger.Join(context.Background(), "ZZZZZZ", "bob")
	require.ErrorIs(t, err, ErrInvalidInviteCode)
	_, err = f.ledger.Join(context.Background(), "bad", "bob")
	require.ErrorIs(t, err, ErrInvalidInviteCode)

	require.Equal(t, before, f.store.Keys(""))
}

func TestSubmit_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	f.user(t, "bob", "Bob")

	g, err := f.ledger.CreateGroup(ctx, "G", amount(50), alice)
	require.NoError(t, err)
	_, err = f.ledger.Join(ctx, g.InviteCode, "bob")
	require.NoError(t, err)

	// Day 1: both submit.
	res, err := f.ledger.Submit(ctx, g.ID, "alice", amount(60))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.False(t, res.GroupStreakAdvanced)
	require.Equal(t, 1, res.Member.CurrentStreak)

	res, err = f.ledger.Submit(ctx, g.ID, "bob", amount(40))
	require.NoError(t, err)
	require.True(t, res.GroupStreakAdvanced)
	require.Equal(t, 1, res.NewGroupStreak)
	require.Equal(t, 1, res.Member.CurrentStreak)
	f.requireConsistent(t, g.ID)

	// Day 2: only Alice.
	f.clock.nextDay(1)
	res, err = f.ledger.Submit(ctx, g.ID, "alice", amount(60))
	require.NoError(t, err)
	require.Equal(t, 2, res.Member.CurrentStreak)
	require.False(t, res.GroupStreakAdvanced)
	require.Equal(t, 1, res.NewGroupStreak)

	// Day 3: Bob returns after missing day 2. The group streak stays flat.
	f.clock.nextDay(1)
	res, err = f.ledger.Submit(ctx, g.ID, "bob", amount(40))
	require.NoError(t, err)
	require.Equal(t, 1, res.Member.CurrentStreak)
	require.False(t, res.GroupStreakAdvanced)

	got, err := f.ledger.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentStreak)
	require.Equal(t, 1, got.BestStreak)
	f.requireConsistent(t, g.ID)
}

func TestSubmit_OncePerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	g, err := f.ledger.CreateGroup(ctx, "Solo", amount(20), alice)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errSubmit := f.ledger.Submit(ctx, g.ID, "alice", decimal.RequireFromString("12.50"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errSubmit == nil:
				accepted++
			case errors.Is(errSubmit, ErrAlreadySubmittedToday):
				rejected++
			default:
				t.Errorf("unexpected error: %v", errSubmit)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, accepted)
	require.Equal(t, 4, rejected)

	board, err := f.ledger.Leaderboard(ctx, g.ID, "alice")
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.True(t, board[0].TotalContributions.Equal(decimal.RequireFromString("12.5")))

	// A later time on the same UTC day is still rejected.
	f.clock.mu.Lock()
	f.clock.now = time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC)
	f.clock.mu.Unlock()
	_, err = f.ledger.Submit(ctx, g.ID, "alice", amount(1))
	require.ErrorIs(t, err, ErrAlreadySubmittedToday)
}

func TestSubmit_StreakContinuity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	g, err := f.ledger.CreateGroup(ctx, "Solo", amount(20), alice)
	require.NoError(t, err)

	for day, want := range []int{1, 2, 3} {
		if day > 0 {
			f.clock.nextDay(1)
		}
		res, errSubmit := f.ledger.Submit(ctx, g.ID, "alice", amount(5))
		require.NoError(t, errSubmit)
		require.Equal(t, want, res.Member.CurrentStreak)
		require.True(t, res.GroupStreakAdvanced)
		require.Equal(t, want, res.NewGroupStreak)
	}

	// Skip a day: member streak restarts, group streak never decreases.
	f.clock.nextDay(2)
	res, err := f.ledger.Submit(ctx, g.ID, "alice", amount(5))
	require.NoError(t, err)
	require.Equal(t, 1, res.Member.CurrentStreak)
	require.Equal(t, 4, res.NewGroupStreak)

	got, err := f.ledger.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, 4, got.BestStreak)
	require.True(t, res.Member.TotalContributions.Equal(amount(20)))
}

func TestSubmit_ConcurrentStragglersAdvanceOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	g, err := f.ledger.CreateGroup(ctx, "Big", amount(10), alice)
	require.NoError(t, err)

	users := []string{"alice"}
	for _, id := range []string{"bob", "carol", "dan", "eve", "fay"} {
		f.user(t, id, strings.ToUpper(id[:1])+id[1:])
		_, errJoin := f.ledger.Join(ctx, g.InviteCode, id)
		require.NoError(t, errJoin)
		users = append(users, id)
	}

	for _, id := range users[:len(users)-2] {
		_, errSubmit := f.ledger.Submit(ctx, g.ID, id, amount(10))
		require.NoError(t, errSubmit)
	}

	var wg sync.WaitGroup
	advanced := make(chan bool, 2)
	for _, id := range users[len(users)-2:] {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, errSubmit := f.ledger.Submit(ctx, g.ID, id, amount(10))
			if errSubmit != nil {
				t.Errorf("submit %s: %v", id, errSubmit)
				return
			}
			advanced <- res.GroupStreakAdvanced
		}(id)
	}
	wg.Wait()
	close(advanced)

	count := 0
	for ok := range advanced {
		if ok {
			count++
		}
	}
	require.Equal(t, 1, count)

	got, err := f.ledger.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentStreak)
	require.Equal(t, "2024-03-10", got.LastStreakDay)
}

func TestSubmit_LastStreakDayGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	f.user(t, "bob", "Bob")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)

	res, err := f.ledger.Submit(ctx, g.ID, "alice", amount(10))
	require.NoError(t, err)
	require.True(t, res.GroupStreakAdvanced)

	// Bob joins after the group already advanced today; his submission completes
	// "everyone submitted" a second time but the streak must not move again.
	_, err = f.ledger.Join(ctx, g.InviteCode, "bob")
	require.NoError(t, err)
	res, err = f.ledger.Submit(ctx, g.ID, "bob", amount(10))
	require.NoError(t, err)
	require.False(t, res.GroupStreakAdvanced)
	require.Equal(t, 1, res.NewGroupStreak)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)

	_, err = f.ledger.Submit(ctx, g.ID, "alice", amount(-5))
	require.ErrorIs(t, err, ErrInvalidAmount)

	for _, raw := range []string{"1e400", "1e-100000000", "1000000000000001"} {
		var huge decimal.Decimal
		require.NoError(t, json.Unmarshal([]byte(raw), &huge))
		_, err = f.ledger.Submit(ctx, g.ID, "alice", huge)
		require.ErrorIs(t, err, ErrInvalidAmount, raw)
	}

	_, err = f.ledger.Submit(ctx, g.ID, "mallory", amount(5))
	require.ErrorIs(t, err, ErrNotAMember)

	_, err = f.ledger.Submit(ctx, "missing", "alice", amount(5))
	require.ErrorIs(t, err, ErrGroupNotFound)

	res, err := f.ledger.Submit(ctx, g.ID, "alice", decimal.Zero)
	require.NoError(t, err)
	require.True(t, res.Accepted)
}

func TestRepairMembership_Creator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	f.user(t, "bob", "Bob")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)
	_, err = f.ledger.Join(ctx, g.InviteCode, "bob")
	require.NoError(t, err)

	// Simulate drift from an earlier partial failure.
	broken, err := f.ledger.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	broken.Members = []string{"bob"}
	require.NoError(t, kv.SetJSON(ctx, f.store, groupKey(g.ID), broken))
	require.NoError(t, f.store.Delete(ctx, memberKey(g.ID, "alice")))

	res, err := f.ledger.Submit(ctx, g.ID, "alice", amount(30))
	require.NoError(t, err)
	require.Equal(t, 1, res.Member.CurrentStreak)
	f.requireConsistent(t, g.ID)

	got, err := f.ledger.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alice", "bob"}, got.Members)
}

func TestRepairMembership_ListedMemberWithoutRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	f.user(t, "bob", "Bob")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)
	_, err = f.ledger.Join(ctx, g.InviteCode, "bob")
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, memberKey(g.ID, "bob")))

	board, err := f.ledger.Leaderboard(ctx, g.ID, "bob")
	require.NoError(t, err)
	require.Len(t, board, 2)
	f.requireConsistent(t, g.ID)

	_, _, err = f.ledger.GroupDetail(ctx, g.ID, "mallory")
	require.ErrorIs(t, err, ErrNotAMember)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	f.user(t, "bob", "Bob")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)
	_, err = f.ledger.Join(ctx, g.InviteCode, "bob")
	require.NoError(t, err)

	require.NoError(t, f.ledger.Leave(ctx, g.ID, "alice"))
	f.requireConsistent(t, g.ID)
	require.ErrorIs(t, f.ledger.Leave(ctx, g.ID, "alice"), ErrNotAMember)

	// The creator left on purpose, so no self-repair brings them back.
	_, err = f.ledger.Submit(ctx, g.ID, "alice", amount(5))
	require.ErrorIs(t, err, ErrNotAMember)
	_, err = f.ledger.Leaderboard(ctx, g.ID, "alice")
	require.ErrorIs(t, err, ErrNotAMember)
	f.requireConsistent(t, g.ID)

	groups, err := f.ledger.ListGroups(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, groups)

	require.NoError(t, f.ledger.Leave(ctx, g.ID, "bob"))
	require.Empty(t, f.store.Keys(groupKey(g.ID)))
	require.Empty(t, f.store.Keys(inviteKey(g.InviteCode)))

	_, err = f.ledger.Leaderboard(ctx, g.ID, "bob")
	require.ErrorIs(t, err, ErrGroupNotFound)
	_, err = f.ledger.Join(ctx, g.InviteCode, "carol")
	require.ErrorIs(t, err, ErrInvalidInviteCode)
}

func TestLeaderboard_SortsByContributions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)
	for _, id := range []string{"bob", "carol", "dan"} {
		f.user(t, id, strings.ToUpper(id[:1])+id[1:])
		_, errJoin := f.ledger.Join(ctx, g.InviteCode, id)
		require.NoError(t, errJoin)
	}

	sums := map[string]decimal.Decimal{}
	days := [][]struct {
		user   string
		amount int64
	}{
		{{"alice", 10}, {"bob", 30}, {"carol", 10}},
		{{"alice", 10}, {"dan", 20}, {"carol", 10}},
	}
	for i, day := range days {
		if i > 0 {
			f.clock.nextDay(1)
		}
		for _, s := range day {
			_, errSubmit := f.ledger.Submit(ctx, g.ID, s.user, amount(s.amount))
			require.NoError(t, errSubmit)
			sums[s.user] = sums[s.user].Add(amount(s.amount))
		}
	}

	board, err := f.ledger.Leaderboard(ctx, g.ID, "dan")
	require.NoError(t, err)
	var order []string
	for _, entry := range board {
		order = append(order, entry.UserID)
		require.True(t, entry.TotalContributions.Equal(sums[entry.UserID]), entry.UserID)
	}
	// alice, carol and dan tie at 20 and keep member order.
	require.Equal(t, []string{"bob", "alice", "carol", "dan"}, order)
	require.Equal(t, "Bob", board[0].Name)
}

func TestListGroups_PrunesStaleIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	g, err := f.ledger.CreateGroup(ctx, "G", amount(10), alice)
	require.NoError(t, err)
	require.NoError(t, kv.SetJSON(ctx, f.store, userGroupsKey("alice"), []string{"gone", g.ID}))

	groups, err := f.ledger.ListGroups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, groups, 1)

	var ids []string
	require.NoError(t, kv.GetJSON(ctx, f.store, userGroupsKey("alice"), &ids))
	require.Equal(t, []string{g.ID}, ids)
}

func TestUpdateProfileName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	first, err := f.ledger.CreateGroup(ctx, "One", amount(10), alice)
	require.NoError(t, err)
	_, err = f.ledger.CreateGroup(ctx, "Two", amount(10), alice)
	require.NoError(t, err)

	updated, err := f.ledger.UpdateProfileName(ctx, "alice", "  Alice R. ")
	require.NoError(t, err)
	require.Equal(t, 2, updated)

	_, members, err := f.ledger.GroupDetail(ctx, first.ID, "alice")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "Alice R.", members[0].Name)
	require.Equal(t, "alice@example.com", members[0].Email)

	_, err = f.ledger.UpdateProfileName(ctx, "alice", " ")
	require.ErrorIs(t, err, ErrInvalidName)
}

func TestPendingGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice", "Alice")
	one, err := f.ledger.CreateGroup(ctx, "One", amount(10), alice)
	require.NoError(t, err)
	two, err := f.ledger.CreateGroup(ctx, "Two", amount(10), alice)
	require.NoError(t, err)

	_, err = f.ledger.Submit(ctx, one.ID, "alice", amount(10))
	require.NoError(t, err)

	pending, err := f.ledger.PendingGroups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, two.ID, pending[0].ID)

	f.clock.nextDay(1)
	pending, err = f.ledger.PendingGroups(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 2)
}

func TestDecodeGroup_RejectsCorruptRecords(t *testing.T) {
	valid := `{"id":"g","name":"G","dailyGoal":"5","inviteCode":"ABC123","createdBy":"a","members":["a"],"currentStreak":1,"bestStreak":1}`
	_, err := decodeGroup([]byte(valid))
	require.NoError(t, err)

	cases := map[string]string{
		"best below current": `{"id":"g","inviteCode":"ABC123","createdBy":"a","members":["a"],"currentStreak":2,"bestStreak":1}`,
		"bad invite code":    `{"id":"g","inviteCode":"abc","createdBy":"a","members":["a"]}`,
		"duplicate member":   `{"id":"g","inviteCode":"ABC123","createdBy":"a","members":["a","a"]}`,
		"negative goal":      `{"id":"g","dailyGoal":-1,"inviteCode":"ABC123","createdBy":"a","members":["a"]}`,
		"missing id":         `{"inviteCode":"ABC123","createdBy":"a","members":["a"]}`,
		"not an object":      `[1,2]`,
	}
	for name, raw := range cases {
		_, errDecode := decodeGroup([]byte(raw))
		require.ErrorIs(t, errDecode, ErrCorruptRecord, name)
	}
}

func TestDecodeMember_RejectsCorruptRecords(t *testing.T) {
	_, err := decodeMember([]byte(`{"userId":"a","currentStreak":0,"totalContributions":"0"}`), "a")
	require.NoError(t, err)

	_, err = decodeMember([]byte(`{"userId":"b"}`), "a")
	require.ErrorIs(t, err, ErrCorruptRecord)
	_, err = decodeMember([]byte(`{"userId":"a","totalContributions":"-3"}`), "a")
	require.ErrorIs(t, err, ErrCorruptRecord)
	_, err = decodeMember([]byte(`{"userId":"a","totalContributions":"1e400"}`), "a")
	require.ErrorIs(t, err, ErrCorruptRecord)
}

type failingStore struct {
	*kv.MemoryStore
	failSetPrefix string
}

func (s *failingStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failSetPrefix != "" && strings.HasPrefix(key, s.failSetPrefix) && !strings.Contains(key, ":member:") {
		return kv.ErrUnavailable
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestSubmit_GroupWriteFailureRollsBackMember(t *testing.T) {
	store := &failingStore{MemoryStore: kv.NewMemoryStore()}
	clock := &fakeClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	l := New(store, kv.NewMemoryLocker(), identity.NewDirectory(store, time.Minute), WithClock(clock.Now))
	ctx := context.Background()

	g, err := l.CreateGroup(ctx, "G", amount(10), identity.Identity{UserID: "alice"})
	require.NoError(t, err)

	store.failSetPrefix = groupKey(g.ID)
	_, err = l.Submit(ctx, g.ID, "alice", amount(10))
	require.ErrorIs(t, err, ErrStoreUnavailable)

	m, err := l.getMember(ctx, g.ID, "alice")
	require.NoError(t, err)
	require.Nil(t, m.LastSubmission)
	require.True(t, m.TotalContributions.IsZero())

	store.failSetPrefix = ""
	res, err := l.Submit(ctx, g.ID, "alice", amount(10))
	require.NoError(t, err)
	require.True(t, res.GroupStreakAdvanced)
}
