// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFake_NowStandsStill(t *testing.T) {
	c := Fake(epoch)
	if !c.Now().Equal(epoch) {
		t.Fatalf("Now() = %v, want %v", c.Now(), epoch)
	}
	c.Advance(3 * time.Second)
	if got := Since(c, epoch); got != 3*time.Second {
		t.Errorf("Since() = %v, want 3s", got)
	}
}

func TestFake_AfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should be ready immediately")
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFake_SleepWakesOnAdvance(t *testing.T) {
	c := Fake(epoch)
	done := make(chan struct{})

	go func() {
		c.Sleep(5 * time.Second)
		close(done)
	}()

	c.WaitForWaiters(1)
	c.Advance(4 * time.Second)
	select {
	case <-done:
		t.Fatal("Sleep returned before deadline")
	case <-time.After(20 * time.Millisecond):
	}

	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Sleep did not return after deadline")
	}
}

func TestReal(t *testing.T) {
	c := Real()
	before := time.Now()
	c.Sleep(time.Millisecond)
	if Since(c, before) < time.Millisecond {
		t.Error("Real clock did not advance")
	}
}
