package memory

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"sibyl/app/config"

	"github.com/samber/do"
)

func newTestService(t *testing.T, limit int) *Service {
	t.Helper()

	cfg := &config.Config{}
	cfg.Memory.Path = filepath.Join(t.TempDir(), "memory.jsonl")
	cfg.Memory.Limit = limit

	di := do.New()
	t.Cleanup(func() { _ = di.Shutdown() })

	do.ProvideValue(di, cfg)
	do.Provide(di, New)

	return do.MustInvoke[*Service](di)
}

func TestAddAndLoadRoundTrip(t *testing.T) {
	svc := newTestService(t, 100)

	if err := svc.Add(SourceConversation, "user asked about the weather"); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := svc.Add(SourceScreen, "login form with a submit button"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	records, err := svc.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Source != SourceConversation || records[1].Source != SourceScreen {
		t.Fatalf("unexpected sources: %+v", records)
	}
}

func TestAddIgnoresBlankText(t *testing.T) {
	svc := newTestService(t, 100)

	if err := svc.Add(SourceScreen, "   \n  "); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	records, err := svc.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("blank record stored: %+v", records)
	}
}

func TestLimitDropsOldest(t *testing.T) {
	svc := newTestService(t, 3)

	for _, text := range []string{"one", "two", "three", "four", "five"} {
		if err := svc.Add(SourceConversation, text); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	records, err := svc.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Text != "three" || records[2].Text != "five" {
		t.Fatalf("wrong records survived: %+v", records)
	}
}

func TestConcurrentAddsLoseNoRecords(t *testing.T) {
	svc := newTestService(t, 100)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := svc.Add(SourceConversation, fmt.Sprintf("record %d", i)); err != nil {
				t.Errorf("add failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	records, err := svc.load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(records) != 20 {
		t.Fatalf("got %d records, want 20", len(records))
	}
}

func TestSearchRanksByKeywordOverlap(t *testing.T) {
	svc := newTestService(t, 100)

	for _, text := range []string{
		"the browser shows a login page",
		"login failed with wrong password",
		"user talked about holiday plans",
	} {
		if err := svc.Add(SourceConversation, text); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	results, err := svc.Search("login password", 10)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// two keyword hits outrank one
	if results[0].Text != "login failed with wrong password" {
		t.Fatalf("wrong top result: %q", results[0].Text)
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	svc := newTestService(t, 100)

	for _, text := range []string{"apple pie", "apple cake", "apple tart"} {
		if err := svc.Add(SourceConversation, text); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	results, err := svc.Search("apple", 2)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	svc := newTestService(t, 100)

	if err := svc.Add(SourceConversation, "something"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	results, err := svc.Search("   ", 5)
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("empty query matched %d records", len(results))
	}
}
