// Package zotero talks to the Zotero REST API, the authoritative store for
// bibliographic items. Writes that go through the connector become visible
// here only after an unspecified delay, so readers in this package treat
// every response as possibly stale.
package zotero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Item kinds used by the reconciliation flows.
const (
	KindWebpage    = "webpage"
	KindAttachment = "attachment"
	KindDocument   = "document"
)

// Tag is one tag entry on an item.
type Tag struct {
	Tag string `json:"tag"`
}

// ItemData is the mutable payload of an item. URL is serialized even when
// empty so an update can clear it.
type ItemData struct {
	Key          string   `json:"key,omitempty"`
	Version      int      `json:"version,omitempty"`
	ItemType     string   `json:"itemType"`
	Title        string   `json:"title,omitempty"`
	URL          string   `json:"url"`
	Filename     string   `json:"filename,omitempty"`
	ContentType  string   `json:"contentType,omitempty"`
	ParentItem   string   `json:"parentItem,omitempty"`
	Extra        string   `json:"extra,omitempty"`
	AccessDate   string   `json:"accessDate,omitempty"`
	DateModified string   `json:"dateModified,omitempty"`
	Collections  []string `json:"collections"`
	Tags         []Tag    `json:"tags"`
}

// ItemMeta carries the server-computed counters for an item.
type ItemMeta struct {
	NumChildren int `json:"numChildren"`
}

// Item is one full record envelope as returned by the store.
type Item struct {
	Key     string   `json:"key"`
	Version int      `json:"version"`
	Meta    ItemMeta `json:"meta"`
	Data    ItemData `json:"data"`
}

// ModifiedAt parses the item's dateModified timestamp. Items without one
// sort as the zero time.
func (it Item) ModifiedAt() time.Time {
	t, err := time.Parse(time.RFC3339, it.Data.DateModified)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Collection is one collection envelope from the store.
type Collection struct {
	Key  string `json:"key"`
	Data struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"data"`
}

// Client communicates with a Zotero library over the REST API.
type Client struct {
	baseURL    string
	prefix     string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the given library. libraryType is "user" or
// "group"; baseURL defaults to the public API when empty.
func New(baseURL, libraryType, libraryID, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.zotero.org"
	}
	prefix := "/users/" + libraryID
	if libraryType == "group" {
		prefix = "/groups/" + libraryID
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		prefix:     prefix,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+c.prefix+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Zotero-API-Version", "3")
	if c.apiKey != "" {
		req.Header.Set("Zotero-API-Key", c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// RecentItems fetches the most recently added items, newest first.
func (c *Client) RecentItems(ctx context.Context, limit int) ([]Item, error) {
	path := fmt.Sprintf("/items?sort=dateAdded&direction=desc&limit=%d", limit)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list items: unexpected status %d", resp.StatusCode)
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding item list: %w", err)
	}
	return items, nil
}

// Item fetches a single item by key.
func (c *Client) Item(ctx context.Context, key string) (Item, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/items/"+key, nil)
	if err != nil {
		return Item{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Item{}, fmt.Errorf("fetching item %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Item{}, fmt.Errorf("fetch item %s: unexpected status %d", key, resp.StatusCode)
	}

	var item Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return Item{}, fmt.Errorf("decoding item %s: %w", key, err)
	}
	return item, nil
}

// CreateItems submits new item payloads and returns the raw write-response
// envelope for key extraction.
func (c *Client) CreateItems(ctx context.Context, items []ItemData) (map[string]any, error) {
	return c.write(ctx, items)
}

// UpdateItem submits a mutated item. The data must carry the item's key and
// version so the store can detect conflicting writes.
func (c *Client) UpdateItem(ctx context.Context, item Item) (map[string]any, error) {
	data := item.Data
	data.Key = item.Key
	data.Version = item.Version
	return c.write(ctx, []ItemData{data})
}

func (c *Client) write(ctx context.Context, items []ItemData) (map[string]any, error) {
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshalling items: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/items", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("writing items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("write items: unexpected status %d", resp.StatusCode)
	}

	var envelope map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding write response: %w", err)
	}
	return envelope, nil
}

// DeleteItem removes an item. The item's version is sent as the
// If-Unmodified-Since-Version precondition.
func (c *Client) DeleteItem(ctx context.Context, item Item) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/items/"+item.Key, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("If-Unmodified-Since-Version", strconv.Itoa(item.Version))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", item.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete item %s: unexpected status %d", item.Key, resp.StatusCode)
	}
	return nil
}

// Collections fetches all collections in the library.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list collections: unexpected status %d", resp.StatusCode)
	}

	var collections []Collection
	if err := json.NewDecoder(resp.Body).Decode(&collections); err != nil {
		return nil, fmt.Errorf("decoding collection list: %w", err)
	}
	return collections, nil
}

// IsReachable reports whether the store answers an item listing at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.RecentItems(ctx, 1)
	return err == nil
}
