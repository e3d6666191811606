package registry

import (
	"context"
	"errors"
	"testing"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		DefaultVenue: "metatrader",
		Venues: []config.Venue{
			{Name: "alpaca", APIKey: "k", APISecret: "s"},
			{Name: "metatrader", Bridge: config.Bridge{Transport: "rest", Host: "localhost", Port: 8080}},
		},
	}
}

func TestGetUnknownVenue(t *testing.T) {
	r := New(testConfig())
	defer r.Close()

	_, err := r.Get(context.Background(), "ibkr")
	var unsupported *broker.UnsupportedVenueError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Expected UnsupportedVenueError, got %v", err)
	}
	if unsupported.Venue != "ibkr" {
		t.Errorf("Expected venue name preserved, got %s", unsupported.Venue)
	}
}

func TestGetCachesAdapters(t *testing.T) {
	r := New(testConfig())
	defer r.Close()

	first, err := r.Get(context.Background(), "alpaca")
	if err != nil {
		t.Fatalf("Expected broker, got %v", err)
	}
	second, err := r.Get(context.Background(), "alpaca")
	if err != nil {
		t.Fatalf("Expected broker, got %v", err)
	}
	if first != second {
		t.Error("Expected the same adapter instance on repeated Get")
	}
	if first.Venue() != "alpaca" {
		t.Errorf("Expected alpaca venue, got %s", first.Venue())
	}
}

func TestDefaultVenue(t *testing.T) {
	r := New(testConfig())
	defer r.Close()

	b, err := r.Default(context.Background())
	if err != nil {
		t.Fatalf("Expected default broker, got %v", err)
	}
	if b.Venue() != "metatrader" {
		t.Errorf("Expected configured default venue, got %s", b.Venue())
	}
}

func TestConfiguredButUnbuildableVenue(t *testing.T) {
	cfg := testConfig()
	cfg.Venues = append(cfg.Venues, config.Venue{Name: "nyse-direct"})
	r := New(cfg)
	defer r.Close()

	_, err := r.Get(context.Background(), "nyse-direct")
	var unsupported *broker.UnsupportedVenueError
	if !errors.As(err, &unsupported) {
		t.Fatalf("Expected UnsupportedVenueError, got %v", err)
	}
}

func TestCloseBlocksFurtherGets(t *testing.T) {
	r := New(testConfig())
	if _, err := r.Get(context.Background(), "alpaca"); err != nil {
		t.Fatalf("Expected broker, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Expected clean close, got %v", err)
	}
	if _, err := r.Get(context.Background(), "alpaca"); err == nil {
		t.Fatal("Expected Get to fail after Close")
	}
}
