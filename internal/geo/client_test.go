package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/countrySubdivision" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("lat") != "40.41" || r.URL.Query().Get("lng") != "-3.70" {
			t.Errorf("unexpected coordinates: %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("username") != "demo" {
			t.Errorf("missing username parameter")
		}
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<geonames>
  <countrySubdivision>
    <countryCode>ES</countryCode>
    <countryName>Spain</countryName>
    <adminCode1>29</adminCode1>
    <adminName1>Madrid</adminName1>
  </countrySubdivision>
</geonames>`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "demo")
	sub, err := client.Lookup(context.Background(), "40.41", "-3.70")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !sub.Success {
		t.Fatal("expected Success=true")
	}
	if sub.Country != "Spain" || sub.Region != "Madrid" {
		t.Fatalf("unexpected subdivision: %+v", sub)
	}
}

func TestLookupNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<geonames>
  <status message="no country subdivision found" value="15"/>
</geonames>`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "demo")
	sub, err := client.Lookup(context.Background(), "0", "0")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if sub.Success {
		t.Fatal("expected Success=false for an ocean coordinate")
	}
}

func TestLookupServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "demo")
	if _, err := client.Lookup(context.Background(), "1", "1"); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}
