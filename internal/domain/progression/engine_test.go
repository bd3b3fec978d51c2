package progression

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melon-hub/melon-rank/internal/domain/shared"
)

func engineWith(t *testing.T, table Table) *Engine {
	t.Helper()
	e := NewEngine(DefaultRules())
	stats := e.Restore(table)
	require.Equal(t, len(table), stats.Loaded)
	return e
}

func TestEngine_Award_KeepsInvariant(t *testing.T) {
	amounts := []int{1, 5, 10, 50, 99, 100, 101, 250, 1000}

	for level := 1; level <= 5; level++ {
		for xp0 := 0; xp0 < level*100; xp0 += 7 {
			for _, amount := range amounts {
				e := engineWith(t, Table{"m": {Chat: Track{Level: level, XP: xp0}, Voice: DefaultTrack()}})

				adv, err := e.Award("m", KindChat, amount)
				require.NoError(t, err)

				got := e.Record("m").Chat
				assert.True(t, got.Valid(100), "L%d/X%d +%d -> %+v", level, xp0, amount, got)
				assert.GreaterOrEqual(t, got.Level, level)
				assert.Equal(t, got.Level-level, adv.LevelsGained)
				assert.Equal(t, got, adv.Track)
			}
		}
	}
}

func TestEngine_Award_DiscardsExcess(t *testing.T) {
	tests := []struct {
		name   string
		start  Track
		amount int
		want   Track
		gained int
	}{
		{name: "threshold exactly met", start: Track{Level: 1, XP: 95}, amount: 10, want: Track{Level: 2, XP: 0}, gained: 1},
		{name: "large award is not carried", start: Track{Level: 1, XP: 90}, amount: 250, want: Track{Level: 2, XP: 0}, gained: 1},
		{name: "below threshold", start: Track{Level: 1, XP: 0}, amount: 99, want: Track{Level: 1, XP: 99}, gained: 0},
		{name: "exact threshold from zero", start: Track{Level: 3, XP: 0}, amount: 300, want: Track{Level: 4, XP: 0}, gained: 1},
		{name: "huge award", start: Track{Level: 2, XP: 10}, amount: 100000, want: Track{Level: 3, XP: 0}, gained: 1},
		{name: "max int award", start: Track{Level: 1, XP: 90}, amount: math.MaxInt, want: Track{Level: 2, XP: 0}, gained: 1},
		{name: "max int award from zero", start: Track{Level: 7, XP: 0}, amount: math.MaxInt, want: Track{Level: 8, XP: 0}, gained: 1},
		{name: "level cap holds", start: Track{Level: MaxLevel, XP: 5}, amount: math.MaxInt, want: Track{Level: MaxLevel, XP: 0}, gained: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := engineWith(t, Table{"m": {Chat: tt.start, Voice: DefaultTrack()}})

			adv, err := e.Award("m", KindChat, tt.amount)
			require.NoError(t, err)

			assert.Equal(t, tt.want, e.Record("m").Chat)
			assert.Equal(t, tt.gained, adv.LevelsGained)
			assert.Equal(t, tt.start.Level, adv.FromLevel)
			assert.Equal(t, DefaultTrack(), e.Record("m").Voice, "other kind untouched")
		})
	}
}

func TestEngine_Award_RejectsNonPositive(t *testing.T) {
	start := Record{Chat: Track{Level: 2, XP: 40}, Voice: Track{Level: 1, XP: 10}}
	e := engineWith(t, Table{"m": start})

	for _, amount := range []int{0, -1, -100} {
		for _, kind := range Kinds() {
			_, err := e.Award("m", kind, amount)
			assert.ErrorIs(t, err, shared.ErrInvalidAmount)
			assert.True(t, shared.IsInvalidArgument(err))
		}
	}

	_, err := e.Award("newcomer", KindChat, 0)
	assert.Error(t, err)

	assert.Equal(t, start, e.Record("m"))
	assert.Equal(t, 1, e.Len())
}

func TestEngine_Award_RejectsMalformedInput(t *testing.T) {
	e := NewEngine(DefaultRules())

	for _, id := range []string{"", "   ", "a b", "tab\tid"} {
		_, err := e.Award(id, KindChat, 10)
		assert.ErrorIs(t, err, shared.ErrInvalidMemberID, "id %q", id)
	}

	_, err := e.Award("m", Kind("reaction"), 10)
	assert.ErrorIs(t, err, shared.ErrInvalidKind)
	assert.Equal(t, 0, e.Len())
}

func TestEngine_Award_CreatesRecordLazily(t *testing.T) {
	e := NewEngine(DefaultRules())

	assert.Equal(t, DefaultRecord(), e.Record("ghost"))
	assert.Equal(t, 0, e.Len(), "read must not materialize a record")

	_, err := e.Award("ghost", KindVoice, 50)
	require.NoError(t, err)

	assert.Equal(t, 1, e.Len())
	assert.Equal(t, Track{Level: 1, XP: 50}, e.Record("ghost").Voice)
	assert.Equal(t, DefaultTrack(), e.Record("ghost").Chat)
}

func TestEngine_Award_Concurrent(t *testing.T) {
	e := NewEngine(DefaultRules())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := e.Award("busy", KindChat, 10)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	// 1000 XP in steps of 10 never overshoots: 100 + 200 + 300 + 400.
	assert.Equal(t, Track{Level: 5, XP: 0}, e.Record("busy").Chat)
}

func TestEngine_Leaderboard_Ordering(t *testing.T) {
	e := engineWith(t, Table{
		"A": {Chat: Track{Level: 2, XP: 50}, Voice: DefaultTrack()},
		"B": {Chat: Track{Level: 3, XP: 10}, Voice: DefaultTrack()},
		"C": {Chat: Track{Level: 2, XP: 80}, Voice: DefaultTrack()},
	})

	board := e.Leaderboard(KindChat, 10, nil)

	require.Len(t, board, 3)
	assert.Equal(t, []string{"B", "C", "A"}, memberIDs(board))
	assert.Equal(t, Standing{MemberID: "B", Level: 3, XP: 10}, board[0])
}

func TestEngine_Leaderboard_FilterBeforeLimit(t *testing.T) {
	e := engineWith(t, Table{
		"gone1": {Chat: Track{Level: 9, XP: 0}, Voice: DefaultTrack()},
		"gone2": {Chat: Track{Level: 8, XP: 0}, Voice: DefaultTrack()},
		"x":     {Chat: Track{Level: 3, XP: 0}, Voice: DefaultTrack()},
		"y":     {Chat: Track{Level: 2, XP: 0}, Voice: DefaultTrack()},
		"z":     {Chat: Track{Level: 1, XP: 0}, Voice: DefaultTrack()},
	})

	present := func(id string) bool { return id != "gone1" && id != "gone2" }

	board := e.Leaderboard(KindChat, 2, present)
	assert.Equal(t, []string{"x", "y"}, memberIDs(board))
}

func TestEngine_Leaderboard_Edges(t *testing.T) {
	empty := NewEngine(DefaultRules())
	board := empty.Leaderboard(KindVoice, 10, nil)
	assert.NotNil(t, board)
	assert.Empty(t, board)

	e := engineWith(t, Table{"a": DefaultRecord()})
	assert.Empty(t, e.Leaderboard(KindChat, 0, nil))
	assert.Empty(t, e.Leaderboard(KindChat, -3, nil))
	assert.Empty(t, e.Leaderboard(Kind("bogus"), 10, nil))
}

func TestEngine_Leaderboard_TiesKeepInsertionOrder(t *testing.T) {
	e := NewEngine(DefaultRules())
	for _, id := range []string{"zed", "amy", "mo"} {
		_, err := e.Award(id, KindVoice, 50)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"zed", "amy", "mo"}, memberIDs(e.Leaderboard(KindVoice, 10, nil)))
}

func TestEngine_Snapshot_IsIndependent(t *testing.T) {
	e := NewEngine(DefaultRules())
	_, err := e.Award("m", KindChat, 10)
	require.NoError(t, err)

	snap := e.Snapshot()
	_, err = e.Award("m", KindChat, 10)
	require.NoError(t, err)

	assert.Equal(t, 10, snap["m"].Chat.XP)
	assert.Equal(t, 20, e.Record("m").Chat.XP)
}

func TestEngine_Restore_NormalizesRecords(t *testing.T) {
	e := NewEngine(DefaultRules())

	stats := e.Restore(Table{
		"ok":       {Chat: Track{Level: 2, XP: 10}, Voice: DefaultTrack()},
		"negative": {Chat: Track{Level: 0, XP: -5}, Voice: DefaultTrack()},
		"overfull": {Chat: Track{Level: 1, XP: 150}, Voice: Track{Level: 2, XP: 999}},
		"bad id":   DefaultRecord(),
	})

	assert.Equal(t, RestoreStats{Loaded: 3, Repaired: 2, Dropped: 1}, stats)
	assert.Equal(t, Track{Level: 1, XP: 0}, e.Record("negative").Chat)
	assert.Equal(t, Track{Level: 2, XP: 0}, e.Record("overfull").Chat)
	assert.Equal(t, Track{Level: 3, XP: 0}, e.Record("overfull").Voice)
	assert.False(t, e.Contains("bad id"))
}

func TestEngine_Restore_ClampsHugeLevels(t *testing.T) {
	tests := []struct {
		name  string
		track Track
		want  Track
	}{
		{name: "level beyond cap", track: Track{Level: math.MaxInt / 50, XP: 10}, want: Track{Level: MaxLevel, XP: 0}},
		{name: "max int level", track: Track{Level: math.MaxInt, XP: math.MaxInt}, want: Track{Level: MaxLevel, XP: 0}},
		{name: "max int xp", track: Track{Level: 3, XP: math.MaxInt}, want: Track{Level: 4, XP: 0}},
		{name: "full track at cap", track: Track{Level: MaxLevel, XP: MaxLevel * 100}, want: Track{Level: MaxLevel, XP: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(DefaultRules())

			stats := e.Restore(Table{"m": {Chat: tt.track, Voice: DefaultTrack()}})

			assert.Equal(t, RestoreStats{Loaded: 1, Repaired: 1}, stats)
			got := e.Record("m").Chat
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid(100))
		})
	}
}

func TestTrack_Valid_RejectsLevelAboveCap(t *testing.T) {
	assert.True(t, Track{Level: MaxLevel, XP: 0}.Valid(100))
	assert.False(t, Track{Level: MaxLevel + 1, XP: 0}.Valid(100))
	assert.False(t, Track{Level: math.MaxInt, XP: 0}.Valid(100))
}

func TestRules_Validate(t *testing.T) {
	assert.NoError(t, DefaultRules().Validate())

	bad := DefaultRules()
	bad.XPPerLevelUnit = 0
	bad.VoiceTickInterval = 0
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, shared.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "xp per level unit")
	assert.Contains(t, err.Error(), "voice tick interval")

	huge := DefaultRules()
	huge.XPPerLevelUnit = math.MaxInt/MaxLevel + 1
	err = huge.Validate()
	require.Error(t, err)
	assert.True(t, shared.IsInvalidArgument(err))
	assert.Contains(t, err.Error(), "xp per level unit must be at most")
}

func TestRules_CustomUnit(t *testing.T) {
	rules := DefaultRules()
	rules.XPPerLevelUnit = 10
	e := NewEngine(rules)

	_, err := e.Award("m", KindChat, 10)
	require.NoError(t, err)
	assert.Equal(t, Track{Level: 2, XP: 0}, e.Record("m").Chat)
	assert.Equal(t, 20, rules.Required(2))
	assert.Equal(t, 10, rules.Accumulated(Track{Level: 2, XP: 0}))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"chat": KindChat, " Voice ": KindVoice, "채팅": KindChat, "음성": KindVoice} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseKind("video")
	assert.ErrorIs(t, err, shared.ErrInvalidKind)
}

func TestEventsFor(t *testing.T) {
	quiet := EventsFor(Advancement{MemberID: "m", Kind: KindChat, Amount: 10, FromLevel: 1, ToLevel: 1})
	require.Len(t, quiet, 1)
	assert.Equal(t, shared.EventXPAwarded, quiet[0].EventType())

	loud := EventsFor(Advancement{MemberID: "m", Kind: KindVoice, Amount: 50, FromLevel: 1, ToLevel: 2, LevelsGained: 1})
	require.Len(t, loud, 2)
	assert.Equal(t, shared.EventLevelUp, loud[1].EventType())
	assert.Equal(t, "m", loud[1].AggregateID())
	assert.Equal(t, 2, loud[1].Payload()["to_level"])
}

func memberIDs(board []Standing) []string {
	out := make([]string, len(board))
	for i, s := range board {
		out[i] = s.MemberID
	}
	return out
}

func ExampleEngine_Award() {
	e := NewEngine(DefaultRules())
	e.Restore(Table{"42": {Chat: Track{Level: 1, XP: 90}, Voice: DefaultTrack()}})

	adv, _ := e.Award("42", KindChat, 250)
	fmt.Println(adv.FromLevel, adv.ToLevel, adv.Track.XP)
	// Output: 1 2 0
}
