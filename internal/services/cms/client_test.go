package cms_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"easel/internal/services"
	"easel/internal/services/cms"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*cms.Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := cms.NewClientWith(server.URL, "production", "test-token", server.Client())
	return client, server
}

func TestUploadAssetReturnsAssetID(t *testing.T) {
	var gotAuth, gotPath, gotQuery string
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(map[string]any{
			"document": map[string]any{"_id": "image-abc123"},
		})
	})

	imagePath := filepath.Join(t.TempDir(), "hero_v1.png")
	if err := os.WriteFile(imagePath, []byte("img"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	assetID, err := client.UploadAsset(context.Background(), imagePath)
	if err != nil {
		t.Fatalf("UploadAsset returned error: %v", err)
	}
	if assetID != "image-abc123" {
		t.Fatalf("expected asset id image-abc123, got %q", assetID)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("expected bearer token, got %q", gotAuth)
	}
	if gotPath != "/assets/images/production" {
		t.Fatalf("unexpected upload path %q", gotPath)
	}
	if !strings.Contains(gotQuery, "filename=hero_v1.png") {
		t.Fatalf("expected filename in query, got %q", gotQuery)
	}
}

func TestUploadAssetServerError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	imagePath := filepath.Join(t.TempDir(), "hero.png")
	if err := os.WriteFile(imagePath, []byte("img"), 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	_, err := client.UploadAsset(context.Background(), imagePath)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker for 5xx, got %v", err)
	}
}

func TestGetDocument(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/doc/production/article-1" {
			t.Errorf("unexpected document path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"documents": []map[string]any{
				{
					"_id":   "article-1",
					"title": "Lighthouses",
					"heroImage": map[string]any{
						"asset": map[string]any{"_ref": "image-abc"},
					},
				},
			},
		})
	})

	doc, err := client.GetDocument(context.Background(), "article-1")
	if err != nil {
		t.Fatalf("GetDocument returned error: %v", err)
	}
	if doc.AssetRef("heroImage") != "image-abc" {
		t.Fatalf("expected hero asset ref, got %q", doc.AssetRef("heroImage"))
	}
	if doc.AssetRef("sectionImage1") != "" {
		t.Fatalf("expected empty ref for unset slot, got %q", doc.AssetRef("sectionImage1"))
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"documents": []map[string]any{}})
	})

	if _, err := client.GetDocument(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for empty result, got %v", err)
	}

	client404, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	if _, err := client404.GetDocument(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for 404, got %v", err)
	}
}

func TestPatchDocumentSendsSingleMutation(t *testing.T) {
	var body map[string]any
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/mutate/production" {
			t.Errorf("unexpected mutate path %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode mutation body: %v", err)
		}
		w.Write([]byte(`{"results":[]}`))
	})

	set := map[string]any{
		"heroImage": map[string]any{
			"_type": "image",
			"asset": map[string]any{"_type": "reference", "_ref": "image-abc"},
		},
	}
	if err := client.PatchDocument(context.Background(), "article-1", set); err != nil {
		t.Fatalf("PatchDocument returned error: %v", err)
	}

	mutations, ok := body["mutations"].([]any)
	if !ok || len(mutations) != 1 {
		t.Fatalf("expected one mutation, got %v", body)
	}
	patch, ok := mutations[0].(map[string]any)["patch"].(map[string]any)
	if !ok || patch["id"] != "article-1" {
		t.Fatalf("expected patch targeting article-1, got %v", mutations[0])
	}
}

func TestPatchDocumentEmptySetIsNoop(t *testing.T) {
	called := false
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	if err := client.PatchDocument(context.Background(), "article-1", nil); err != nil {
		t.Fatalf("PatchDocument returned error: %v", err)
	}
	if called {
		t.Fatal("empty set must not hit the API")
	}
}
