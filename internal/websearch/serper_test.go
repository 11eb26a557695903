package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSerper_ParsesOrganicResults(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-KEY")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"Muni","link":"https://muni.gob","snippet":"tramites"},
			{"title":"Otro","link":"https://otro.gob","snippet":"mas"},
			{"title":"Tercero","link":"https://t.gob","snippet":"extra"}
		]}`))
	}))
	defer srv.Close()

	s := NewSerper("clave")
	s.baseURL = srv.URL

	results, err := s.Search(context.Background(), "impuesto", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotKey != "clave" {
		t.Fatalf("expected api key header, got %q", gotKey)
	}
	if len(results) != 2 {
		t.Fatalf("expected k to cap results at 2, got %d", len(results))
	}
	if results[0].Title != "Muni" || results[0].URL != "https://muni.gob" {
		t.Fatalf("unexpected first result: %+v", results[0])
	}
}

func TestSerper_NonOKStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewSerper("clave")
	s.baseURL = srv.URL
	if _, err := s.Search(context.Background(), "impuesto", 3); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
