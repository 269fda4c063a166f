package model

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

func TestNormalizeFeedID(t *testing.T) {
	tests := []struct {
		in   string
		want FeedKey
	}{
		{"0xE62DF6C8B4A85FE1A67DB44DC12DE5DB330F7AC66B72DC658AFEDF0F4A415B43", "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"},
		{"e62df6c8", "e62df6c8"},
		{"  0xabc  ", "abc"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeFeedID(tt.in); got != tt.want {
			t.Errorf("NormalizeFeedID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObservation_Scaling(t *testing.T) {
	obs := Observation{Conf: 5, Expo: -8, Price: 123456789, PublishTime: 1000}

	if got := obs.Float64(); math.Abs(got-1.23456789) > 1e-12 {
		t.Errorf("Float64() = %v, want 1.23456789", got)
	}
	if got := obs.ConfFloat64(); math.Abs(got-5e-8) > 1e-20 {
		t.Errorf("ConfFloat64() = %v, want 5e-8", got)
	}
	if got := obs.Time(); !got.Equal(time.Unix(1000, 0)) {
		t.Errorf("Time() = %v, want %v", got, time.Unix(1000, 0))
	}

	want := "Observation(conf=5, expo=-8, price=123456789, publish_time=1000)"
	if got := obs.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestVersions(t *testing.T) {
	feed := PriceFeed{ID: "x", Price: Observation{PublishTime: 1700000000}, EMAPrice: Observation{PublishTime: 1}}
	if feed.Version() != 1700000000 {
		t.Errorf("PriceFeed.Version() = %d, want 1700000000", feed.Version())
	}

	block := Block{Slot: 301234567}
	if block.Version() != 301234567 {
		t.Errorf("Block.Version() = %d, want 301234567", block.Version())
	}
}

func TestKeys(t *testing.T) {
	keys := Keys("a", "b")
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Errorf("Keys() = %v, want [a b]", keys)
	}
}

func TestErrorKinds_Wrap(t *testing.T) {
	err := fmt.Errorf("%w: version 3", ErrUnsupportedVersion)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Error("wrapped error should match ErrUnsupportedVersion")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("wrapped error should not match ErrTransport")
	}
}
