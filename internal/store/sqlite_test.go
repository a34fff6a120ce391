package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
	"github.com/eventdeck/eventdeck/internal/notify"
	"github.com/eventdeck/eventdeck/internal/query"
	"github.com/eventdeck/eventdeck/pkg/types"
)

type recordingPublisher struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recordingPublisher) Publish(n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func openTestStore(t *testing.T, pub Publisher) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"), pub)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *SQLiteStore, events ...types.Event) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(events))
	for i := range events {
		id, err := s.Upsert(context.Background(), &events[i])
		if err != nil {
			t.Fatalf("seed %q: %v", events[i].Title, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func sampleEvents() []types.Event {
	return []types.Event{
		{Title: "Jazz Night", Slug: "jazz-night", StartDate: "2024-05-20", Location: "Blue Room",
			Status: types.StatusUpcoming, Price: "25", Featured: true,
			Categories: []types.Category{{Name: "Music", Slug: "music"}}},
		{Title: "Pottery Class", Slug: "pottery", StartDate: "2024-05-01", Location: "Studio 4",
			Status: types.StatusCompleted, Price: "40",
			Categories: []types.Category{{Name: "Art", Slug: "art"}}},
		{Title: "Opera Gala", Slug: "opera", StartDate: "2024-06-11", Content: "An evening of jazz standards and arias",
			Status: types.StatusUpcoming, Price: "120",
			Categories: []types.Category{{Name: "Music", Slug: "music"}, {Name: "Gala", Slug: "gala"}}},
		{Title: "About Us", Slug: "about", PostType: "page"},
	}
}

func titles(events []types.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Title
	}
	return out
}

func TestFind_DefaultOrderAndScope(t *testing.T) {
	s := openTestStore(t, nil)
	seed(t, s, sampleEvents()...)

	got, err := s.Find(context.Background(), query.New().Limit(50).OrderBy("start_date", types.OrderAsc).Build())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want := []string{"Pottery Class", "Jazz Night", "Opera Gala"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, titles(got))
	}
	for i := range want {
		if got[i].Title != want[i] {
			t.Errorf("position %d: got %q want %q", i, got[i].Title, want[i])
		}
	}
	if !got[1].Featured || got[1].Location != "Blue Room" || len(got[1].Categories) != 1 {
		t.Errorf("meta and categories should be attached: %+v", got[1])
	}
}

func TestFind_Predicates(t *testing.T) {
	s := openTestStore(t, nil)
	seed(t, s, sampleEvents()...)
	ctx := context.Background()

	tests := []struct {
		name string
		q    types.Query
		want []string
	}{
		{"category", query.New().WhereTaxonomy(query.TaxonomyCategory, "slug", "music").OrderBy("start_date", "").Build(),
			[]string{"Jazz Night", "Opera Gala"}},
		{"status", query.New().WhereMeta(query.MetaStatus, "completed", "=", "").Build(),
			[]string{"Pottery Class"}},
		{"featured", query.New().WhereMeta(query.MetaFeatured, "1", "", "").Build(),
			[]string{"Jazz Night"}},
		{"start date", query.New().WhereMeta(query.MetaStartDate, "2024-05-10", ">=", types.MetaTypeDate).OrderBy("start_date", "").Build(),
			[]string{"Jazz Night", "Opera Gala"}},
		{"numeric price", query.New().WhereMeta("price", "30", ">", types.MetaTypeNumeric).OrderBy("price", types.OrderDesc).Build(),
			[]string{"Opera Gala", "Pottery Class"}},
		{"search body", query.New().Search("jazz").OrderBy("title", "").Build(),
			[]string{"Jazz Night", "Opera Gala"}},
		{"search location", query.New().Search("studio").Build(),
			[]string{"Pottery Class"}},
		{"limit", query.New().OrderBy("start_date", types.OrderDesc).Limit(1).Build(),
			[]string{"Opera Gala"}},
		{"pages", query.New().PostType("page").Build(),
			[]string{"About Us"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Find(ctx, tt.q)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			gotTitles := titles(got)
			if len(gotTitles) != len(tt.want) {
				t.Fatalf("got %v, want %v", gotTitles, tt.want)
			}
			for i := range tt.want {
				if gotTitles[i] != tt.want[i] {
					t.Errorf("got %v, want %v", gotTitles, tt.want)
					break
				}
			}
		})
	}
}

func TestFind_SearchEscapesWildcards(t *testing.T) {
	s := openTestStore(t, nil)
	seed(t, s, types.Event{Title: "100% Fun", StartDate: "2024-01-01"}, types.Event{Title: "Fun Run", StartDate: "2024-01-02"})

	got, err := s.Find(context.Background(), query.New().Search("100%").Build())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].Title != "100% Fun" {
		t.Errorf("expected literal %% match, got %v", titles(got))
	}
}

func TestFind_RejectsUnknownOperator(t *testing.T) {
	s := openTestStore(t, nil)
	_, err := s.Find(context.Background(), query.New().WhereMeta("status", "x", "LIKE", "").Build())
	if apperrors.GetCategory(err) != apperrors.ErrCategoryValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGet_AndCategories(t *testing.T) {
	s := openTestStore(t, nil)
	ids := seed(t, s, sampleEvents()...)
	ctx := context.Background()

	e, err := s.Get(ctx, ids[2])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Title != "Opera Gala" || e.Price != "120" || e.PostType != types.PostTypeEvent {
		t.Errorf("unexpected event: %+v", e)
	}
	if e.Categories != nil {
		t.Error("Get should not attach categories")
	}

	cats, err := s.Categories(ctx, ids[2])
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 2 || cats[0].Slug != "music" || cats[1].Slug != "gala" {
		t.Errorf("unexpected categories: %+v", cats)
	}

	page, err := s.Get(ctx, ids[3])
	if err != nil || page.PostType != "page" {
		t.Errorf("non-event records are still returned by Get: %+v %v", page, err)
	}

	if _, err := s.Get(ctx, 9999); !apperrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestWrites_PublishNotifications(t *testing.T) {
	pub := &recordingPublisher{}
	s := openTestStore(t, pub)
	ctx := context.Background()

	e := types.Event{Title: "Draft", StartDate: "2024-07-01"}
	id, err := s.Upsert(ctx, &e)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	e.ID = id
	e.Title = "Final"
	if _, err := s.Upsert(ctx, &e); err != nil {
		t.Fatalf("update: %v", err)
	}
	catID, err := s.UpsertCategory(ctx, &types.Category{Name: "Talks", Slug: "talks"})
	if err != nil {
		t.Fatalf("category: %v", err)
	}
	if err := s.DeleteCategory(ctx, catID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []notify.NotificationType{notify.EventCreated, notify.EventUpdated, notify.CategoryChanged, notify.CategoryChanged, notify.EventDeleted}
	if len(pub.notes) != len(want) {
		t.Fatalf("expected %d notifications, got %d", len(want), len(pub.notes))
	}
	for i, typ := range want {
		if pub.notes[i].Type != typ {
			t.Errorf("notification %d: got %v want %v", i, pub.notes[i].Type, typ)
		}
	}

	if _, err := s.Get(ctx, id); !apperrors.IsNotFound(err) {
		t.Error("deleted event should be gone")
	}
}

func TestUpsert_ReplacesMetaAndCategories(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	e := sampleEvents()[0]
	id, _ := s.Upsert(ctx, &e)

	e.ID = id
	e.Featured = false
	e.Location = ""
	e.Categories = []types.Category{{Name: "Art", Slug: "art"}}
	if _, err := s.Upsert(ctx, &e); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(ctx, id)
	if got.Featured || got.Location != "" {
		t.Errorf("meta should be replaced: %+v", got)
	}
	cats, _ := s.Categories(ctx, id)
	if len(cats) != 1 || cats[0].Slug != "art" {
		t.Errorf("categories should be replaced: %+v", cats)
	}
}

func TestUpsertCategory_RequiresSlug(t *testing.T) {
	s := openTestStore(t, nil)
	if _, err := s.UpsertCategory(context.Background(), &types.Category{Name: "No slug"}); err == nil {
		t.Error("expected error for missing slug")
	}
}

func TestTitles(t *testing.T) {
	s := openTestStore(t, nil)
	ids := seed(t, s, sampleEvents()...)

	titles, err := s.Titles(context.Background(), []int64{ids[0], ids[2], 9999})
	if err != nil {
		t.Fatalf("titles: %v", err)
	}
	if len(titles) != 2 {
		t.Fatalf("expected 2 titles, got %v", titles)
	}
	if titles[ids[0]] != "Jazz Night" || titles[ids[2]] != "Opera Gala" {
		t.Errorf("unexpected titles: %v", titles)
	}

	empty, err := s.Titles(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty ids: %v %v", empty, err)
	}
}

func TestFind_AfterClose(t *testing.T) {
	s := openTestStore(t, nil)
	seed(t, s, sampleEvents()...)
	q := query.New().Limit(5).Build()
	if _, err := s.Find(context.Background(), q); err != nil {
		t.Fatalf("find: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}
	if _, err := s.Find(context.Background(), q); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}
