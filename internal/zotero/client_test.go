package zotero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRecentItems_RequestShape(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Zotero-API-Key")
		if r.URL.Query().Get("sort") != "dateAdded" || r.URL.Query().Get("direction") != "desc" {
			t.Errorf("query = %s, want sort=dateAdded&direction=desc", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode([]Item{
			{Key: "ITEM0001", Data: ItemData{Key: "ITEM0001", ItemType: KindWebpage, URL: "https://example.com"}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "12345", "secret")
	items, err := c.RecentItems(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentItems: %v", err)
	}

	if gotPath != "/users/12345/items" {
		t.Errorf("path = %q, want /users/12345/items", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("api key header = %q, want secret", gotKey)
	}
	if len(items) != 1 || items[0].Key != "ITEM0001" {
		t.Errorf("items = %+v, want one ITEM0001", items)
	}
}

func TestRecentItems_GroupLibrary(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c := New(srv.URL, "group", "777", "")
	if _, err := c.RecentItems(context.Background(), 5); err != nil {
		t.Fatalf("RecentItems: %v", err)
	}
	if gotPath != "/groups/777/items" {
		t.Errorf("path = %q, want /groups/777/items", gotPath)
	}
}

func TestUpdateItem_PostsFullData(t *testing.T) {
	var posted []ItemData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&posted)
		w.Write([]byte(`{"success": {"0": "ITEM0001"}, "unchanged": [], "failed": {}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "12345", "secret")
	item := Item{
		Key:     "ITEM0001",
		Version: 42,
		Data:    ItemData{ItemType: KindAttachment, URL: "https://example.com", ParentItem: "PARENT01"},
	}

	envelope, err := c.UpdateItem(context.Background(), item)
	if err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}

	if len(posted) != 1 {
		t.Fatalf("posted %d items, want 1", len(posted))
	}
	if posted[0].Key != "ITEM0001" || posted[0].Version != 42 {
		t.Errorf("posted key/version = %s/%d, want ITEM0001/42", posted[0].Key, posted[0].Version)
	}
	if posted[0].ParentItem != "PARENT01" {
		t.Errorf("posted parentItem = %q, want PARENT01", posted[0].ParentItem)
	}

	key, err := ExtractKey(envelope)
	if err != nil {
		t.Fatalf("ExtractKey on update response: %v", err)
	}
	if key != "ITEM0001" {
		t.Errorf("key = %q, want ITEM0001", key)
	}
}

func TestCreateItems_PostsTemplates(t *testing.T) {
	var posted []ItemData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&posted)
		w.Write([]byte(`{"success": {"0": {"key": "ITEM0002"}}, "unchanged": [], "failed": {}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "12345", "secret")
	envelope, err := c.CreateItems(context.Background(), []ItemData{
		{ItemType: KindWebpage, URL: "https://example.com", Title: "Example"},
	})
	if err != nil {
		t.Fatalf("CreateItems: %v", err)
	}

	if len(posted) != 1 || posted[0].Title != "Example" {
		t.Errorf("posted = %+v, want one Example webpage", posted)
	}
	key, err := ExtractKey(envelope)
	if err != nil {
		t.Fatalf("ExtractKey on create response: %v", err)
	}
	if key != "ITEM0002" {
		t.Errorf("key = %q, want ITEM0002", key)
	}
}

func TestDeleteItem_VersionPrecondition(t *testing.T) {
	var gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		gotVersion = r.Header.Get("If-Unmodified-Since-Version")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "12345", "secret")
	if err := c.DeleteItem(context.Background(), Item{Key: "ITEM0001", Version: 7}); err != nil {
		t.Fatalf("DeleteItem: %v", err)
	}
	if gotVersion != "7" {
		t.Errorf("If-Unmodified-Since-Version = %q, want 7", gotVersion)
	}
}

func TestCollections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/12345/collections" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`[{"key": "COLL0001", "data": {"key": "COLL0001", "name": "Reading"}}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "12345", "secret")
	collections, err := c.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(collections) != 1 || collections[0].Data.Name != "Reading" {
		t.Errorf("collections = %+v, want one named Reading", collections)
	}
}

func TestItem_NumChildren(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"key": "ITEM0001", "version": 3, "meta": {"numChildren": 2}, "data": {"key": "ITEM0001", "itemType": "webpage", "url": ""}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "user", "12345", "secret")
	item, err := c.Item(context.Background(), "ITEM0001")
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if item.Meta.NumChildren != 2 {
		t.Errorf("numChildren = %d, want 2", item.Meta.NumChildren)
	}
}

func TestIsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	c := New(srv.URL, "user", "12345", "secret")
	if !c.IsReachable(context.Background()) {
		t.Error("IsReachable = false against live server")
	}

	srv.Close()
	if c.IsReachable(context.Background()) {
		t.Error("IsReachable = true against closed server")
	}
}
