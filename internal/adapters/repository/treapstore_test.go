package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/okian/ratekeep/internal/domain/model"
)

func player(id string, rating float64) model.Player {
	return model.Player{ID: id, Rating: model.Rating{Rating: rating, Deviation: 80, Volatility: 0.06}}
}

func TestTreapStore_BasicOperations(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	if count := store.Count(ctx); count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	if err := store.SavePlayer(ctx, player("p1", 1500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count := store.Count(ctx); count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	entry, err := store.Rank(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Rank != 1 || entry.Rating.Rating != 1500 {
		t.Errorf("unexpected entry %+v", entry)
	}

	if _, err := store.Rank(ctx, "nobody"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if p, err := store.FindPlayer(ctx, "nobody"); err != nil || p != nil {
		t.Errorf("expected nil player, got %+v, %v", p, err)
	}
	if _, err := store.TopN(ctx, 0); err != ErrInvalidLimit {
		t.Errorf("expected ErrInvalidLimit, got %v", err)
	}
}

func TestTreapStore_RatingUpdatesReorder(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()
	for i, r := range []float64{1500, 1600, 1700} {
		if err := store.SavePlayer(ctx, player(fmt.Sprintf("p%d", i), r)); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.SetPlayerRating(ctx, "p0", model.Rating{Rating: 1800, Deviation: 70, Volatility: 0.06}); err != nil {
		t.Fatal(err)
	}
	top, err := store.TopN(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	got := []string{top[0].PlayerID, top[1].PlayerID, top[2].PlayerID}
	want := []string{"p0", "p2", "p1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
	if store.Count(ctx) != 3 {
		t.Errorf("rating update must not duplicate players, count=%d", store.Count(ctx))
	}
	if err := store.SetPlayerRating(ctx, "ghost", model.DefaultGlicko()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTreapStore_Ties(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()
	for _, p := range []model.Player{player("b", 1600), player("a", 1600), player("c", 1500), player("d", 1700)} {
		if err := store.SavePlayer(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	top, err := store.TopN(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	wantIDs := []string{"d", "a", "b", "c"}
	wantRanks := []int{1, 2, 2, 4}
	for i := range top {
		if top[i].PlayerID != wantIDs[i] || top[i].Rank != wantRanks[i] {
			t.Errorf("position %d: got %s rank %d, want %s rank %d", i, top[i].PlayerID, top[i].Rank, wantIDs[i], wantRanks[i])
		}
		entry, err := store.Rank(ctx, top[i].PlayerID)
		if err != nil {
			t.Fatal(err)
		}
		if entry.Rank != top[i].Rank {
			t.Errorf("Rank(%s)=%d disagrees with TopN rank %d", top[i].PlayerID, entry.Rank, top[i].Rank)
		}
	}
}

func TestTreapStore_RecentHistory(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore(WithRecentLimit(2))
	if err := store.SavePlayer(ctx, player("p", 1500)); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"z1", "z2", "z3"} {
		if err := store.AppendRecent(ctx, "p", id); err != nil {
			t.Fatal(err)
		}
	}

	p, _ := store.FindPlayer(ctx, "p")
	if len(p.RecentHistory) != 2 || p.RecentHistory[0] != "z2" || p.RecentHistory[1] != "z3" {
		t.Fatalf("unexpected recent history %v", p.RecentHistory)
	}

	if err := store.SetPlayerRating(ctx, "p", model.Rating{Rating: 1510, Deviation: 70, Volatility: 0.06}); err != nil {
		t.Fatal(err)
	}
	p, _ = store.FindPlayer(ctx, "p")
	if len(p.RecentHistory) != 0 {
		t.Errorf("rating write must clear recent history, got %v", p.RecentHistory)
	}
}

func TestTreapStore_DubiousFlag(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()
	_ = store.SavePlayer(ctx, model.Player{ID: "new", Rating: model.DefaultGlicko()})
	_ = store.SavePlayer(ctx, player("settled", 1500))

	if p, _ := store.FindPlayer(ctx, "new"); !p.Dubious {
		t.Error("a player with default deviation should be dubious")
	}
	if p, _ := store.FindPlayer(ctx, "settled"); p.Dubious {
		t.Error("a settled player should not be dubious")
	}
}

func TestTreapStore_MatchesSortedOrder(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()
	rng := rand.New(rand.NewPCG(1, 2))

	ratings := make(map[string]float64)
	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("p%d", rng.IntN(500))
		r := float64(800 + rng.IntN(1600))
		ratings[id] = r
		if err := store.SavePlayer(ctx, player(id, r)); err != nil {
			t.Fatal(err)
		}
	}

	ids := make([]string, 0, len(ratings))
	for id := range ratings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ratings[ids[i]] != ratings[ids[j]] {
			return ratings[ids[i]] > ratings[ids[j]]
		}
		return ids[i] < ids[j]
	})

	top, err := store.TopN(ctx, len(ids))
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != len(ids) {
		t.Fatalf("expected %d entries, got %d", len(ids), len(top))
	}
	for i := range ids {
		if top[i].PlayerID != ids[i] {
			t.Fatalf("position %d: expected %s, got %s", i, ids[i], top[i].PlayerID)
		}
	}
}

func TestTreapStore_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	store := NewTreapStore()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id := fmt.Sprintf("g%d-%d", g, i%50)
				_ = store.SavePlayer(ctx, player(id, float64(1000+i)))
				_, _ = store.TopN(ctx, 10)
				_, _ = store.Rank(ctx, id)
			}
		}(g)
	}
	wg.Wait()

	if got := store.Count(ctx); got != 8*50 {
		t.Errorf("expected %d players, got %d", 8*50, got)
	}
}

func BenchmarkTreapStore_SetPlayerRating(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore()
	const players = 100_000
	for i := 0; i < players; i++ {
		_ = store.SavePlayer(ctx, player(fmt.Sprintf("p%d", i), float64(800+i%1600)))
	}
	rng := rand.New(rand.NewPCG(3, 4))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := fmt.Sprintf("p%d", rng.IntN(players))
		_ = store.SetPlayerRating(ctx, id, model.Rating{Rating: float64(800 + rng.IntN(1600)), Deviation: 80, Volatility: 0.06})
	}
}

func BenchmarkTreapStore_Rank(b *testing.B) {
	ctx := context.Background()
	store := NewTreapStore()
	const players = 100_000
	for i := 0; i < players; i++ {
		_ = store.SavePlayer(ctx, player(fmt.Sprintf("p%d", i), float64(800+i%1600)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Rank(ctx, fmt.Sprintf("p%d", i%players))
	}
}
