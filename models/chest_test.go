package models

import (
	"testing"
	"time"
)

func newChest(total int64, maxWinners int) *Chest {
	return &Chest{
		ChestID:           "chest1",
		RoomID:            "room1",
		TotalDiamonds:     total,
		RemainingDiamonds: total,
		MaxWinners:        maxWinners,
		Winners:           Winners{},
		Version:           1,
		CreatedAt:         time.Now(),
		ExpiresAt:         time.Now().Add(time.Hour),
	}
}

func claimNext(c *Chest, userID int64) int64 {
	award := c.NextAward()
	c.Winners = c.Winners.With(userID, award)
	c.RemainingDiamonds -= award
	return award
}

func TestNextAward_SingleWinnerTakesAll(t *testing.T) {
	c := newChest(10, 1)

	if award := c.NextAward(); award != 10 {
		t.Fatalf("Expected award of 10, got %d", award)
	}
}

func TestNextAward_EqualSplitRemainderToLast(t *testing.T) {
	c := newChest(10, 3)

	awards := []int64{claimNext(c, 1), claimNext(c, 2), claimNext(c, 3)}

	expected := []int64{3, 3, 4}
	for i, want := range expected {
		if awards[i] != want {
			t.Errorf("Award %d: expected %d, got %d", i, want, awards[i])
		}
	}
	if c.RemainingDiamonds != 0 {
		t.Errorf("Expected 0 remaining, got %d", c.RemainingDiamonds)
	}
	if !c.IsExhausted() {
		t.Error("Chest should be exhausted after all slots are taken")
	}
}

func TestNextAward_MinimumOfOne(t *testing.T) {
	c := newChest(5, 4)
	c.RemainingDiamonds = 2

	if award := c.NextAward(); award != 1 {
		t.Fatalf("Expected minimum award of 1, got %d", award)
	}
}

func TestNextAward_NeverExceedsRemaining(t *testing.T) {
	c := newChest(5, 4)
	c.RemainingDiamonds = 1
	c.Winners = Winners{"1": 2, "2": 1, "3": 1}

	if award := c.NextAward(); award != 1 {
		t.Fatalf("Expected award capped at remaining 1, got %d", award)
	}
}

func TestNextAward_ZeroWhenExhausted(t *testing.T) {
	c := newChest(2, 2)
	c.RemainingDiamonds = 0

	if award := c.NextAward(); award != 0 {
		t.Fatalf("Expected no award from empty chest, got %d", award)
	}
}

func TestChestStatus(t *testing.T) {
	now := time.Now()

	c := newChest(10, 2)
	if c.Status(now) != ChestActive {
		t.Errorf("Fresh chest should be active, got %s", c.Status(now))
	}

	c.RemainingDiamonds = 0
	if c.Status(now) != ChestExhausted {
		t.Errorf("Empty chest should be exhausted, got %s", c.Status(now))
	}

	c = newChest(10, 2)
	c.Winners = Winners{"1": 5, "2": 5}
	if c.Status(now) != ChestExhausted {
		t.Errorf("Full winner list should be exhausted, got %s", c.Status(now))
	}

	c = newChest(10, 2)
	c.ExpiresAt = now.Add(-time.Minute)
	if c.Status(now) != ChestExpired {
		t.Errorf("Past expiry should be expired, got %s", c.Status(now))
	}

	// 终态优先级：抢完优先于过期
	c.RemainingDiamonds = 0
	if c.Status(now) != ChestExhausted {
		t.Errorf("Exhausted wins over expired, got %s", c.Status(now))
	}
}

func TestWinners_HasAndWith(t *testing.T) {
	w := Winners{}

	if w.Has(42) {
		t.Error("Empty winners should not contain user 42")
	}

	w2 := w.With(42, 7)
	if !w2.Has(42) {
		t.Error("With should add user 42")
	}
	if w.Has(42) {
		t.Error("With must not mutate the receiver")
	}
	if w2.Total() != 7 {
		t.Errorf("Expected total 7, got %d", w2.Total())
	}
}

func TestWinners_ScanValueRoundTrip(t *testing.T) {
	w := Winners{"1": 3, "2": 7}

	value, err := w.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}

	var decoded Winners
	if err := decoded.Scan(value); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(decoded) != 2 || decoded["1"] != 3 || decoded["2"] != 7 {
		t.Errorf("Round trip mismatch: %v", decoded)
	}

	var fromNil Winners
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if fromNil == nil || len(fromNil) != 0 {
		t.Errorf("Scan(nil) should produce an empty map, got %v", fromNil)
	}
}
