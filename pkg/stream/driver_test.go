package stream

import (
	"context"
	"fmt"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/ValerioRocca/count-sketch/pkg/countsketch"
)

func testConfig() Config {
	return Config{
		Depth: 4,
		Width: 256,
		Base:  42,
		Left:  0,
		Right: 999,
	}
}

func TestDriverFiltersAndCounts(t *testing.T) {
	d, err := NewDriver(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	src := NewSliceSource(
		[]int64{7, 42, 7, -5, 1000}, // -5 and 1000 fall outside [0,999]
		[]int64{},
		[]int64{7, 99},
	)
	if err := d.Run(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	if d.TotalItems() != 7 {
		t.Errorf("total items %d, want 7", d.TotalItems())
	}
	if d.KeptItems() != 5 {
		t.Errorf("kept items %d, want 5", d.KeptItems())
	}
	if d.Batches() != 3 {
		t.Errorf("batches %d, want 3", d.Batches())
	}
	want := countsketch.ExactCounts{7: 3, 42: 1, 99: 1}
	if !reflect.DeepEqual(d.Exact(), want) {
		t.Errorf("exact table %v, want %v", d.Exact(), want)
	}

	// sketch and table were fed the same filtered stream
	got, err := d.Sketch().EstimateFrequency(7)
	if err != nil {
		t.Fatal(err)
	}
	if got < 1 || got > 5 {
		t.Errorf("estimate for item 7 is %d, outside any plausible range", got)
	}
}

func TestDriverThresholdStopsBetweenBatches(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 5
	d, err := NewDriver(cfg)
	if err != nil {
		t.Fatal(err)
	}
	src := NewSliceSource(
		[]int64{1, 2, 3},
		[]int64{4, 5, 6}, // crosses the threshold; still folded in full
		[]int64{7, 8, 9}, // never consumed
	)
	if err := d.Run(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if d.TotalItems() != 6 {
		t.Errorf("total items %d, want 6", d.TotalItems())
	}
	if src.Consumed() != 2 {
		t.Errorf("consumed %d batches, want 2", src.Consumed())
	}
}

func TestDriverRejectsEmptyInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Left, cfg.Right = 10, 9
	if _, err := NewDriver(cfg); err == nil {
		t.Error("expected error for empty interval")
	}
}

func TestDriverHonorsContext(t *testing.T) {
	d, err := NewDriver(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Run(ctx, NewSliceSource([]int64{1, 2})); err == nil {
		t.Error("expected context error")
	}
}

func TestSocketSourceWindowsAndDrains(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for _, line := range []string{"7", "42", "not-a-number", " 99 ", "-5"} {
			fmt.Fprintln(conn, line)
		}
	}()

	src, err := DialSocket(ln.Addr().String(), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	var all []int64
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("source never drained")
		default:
		}
		batch, err := src.NextBatch(context.Background())
		if err != nil {
			break // io.EOF once the peer closed
		}
		all = append(all, batch...)
		if len(all) > 100 {
			t.Fatal("runaway source")
		}
	}

	want := []int64{7, 42, 99, -5}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("items %v, want %v (garbage line dropped)", all, want)
	}
}

func TestDriverOverSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 200; i++ {
			fmt.Fprintln(conn, i%10)
		}
	}()

	src, err := DialSocket(ln.Addr().String(), 20*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	d, err := NewDriver(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx, src); err != nil {
		t.Fatal(err)
	}

	if d.TotalItems() != 200 || d.KeptItems() != 200 {
		t.Fatalf("total=%d kept=%d, want 200/200", d.TotalItems(), d.KeptItems())
	}
	for item := int64(0); item < 10; item++ {
		if d.Exact()[item] != 20 {
			t.Errorf("item %d exact count %d, want 20", item, d.Exact()[item])
		}
	}
}
