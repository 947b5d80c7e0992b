package store

import (
	"errors"
	"testing"
)

func TestGetOrCreateClassCodeKD(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	id, err := s.GetOrCreateClassCode("301241", true)
	if err != nil {
		t.Fatalf("GetOrCreateClassCode failed: %v", err)
	}

	id2, err := s.GetOrCreateClassCode("301241", true)
	if err != nil {
		t.Fatalf("GetOrCreateClassCode failed on existing code: %v", err)
	}
	if id2 != id {
		t.Errorf("Expected same id %d, got %d", id, id2)
	}

	c, err := s.GetClassCode(id, true)
	if err != nil {
		t.Fatalf("GetClassCode failed: %v", err)
	}
	if c.Code != "301241" {
		t.Errorf("Expected code 301241, got %q", c.Code)
	}
	if c.Description != "Класс КД 301241" {
		t.Errorf("Expected placeholder description, got %q", c.Description)
	}
}

func TestGetOrCreateClassCodeTD(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	id, err := s.GetOrCreateClassCode("0123456", false)
	if err != nil {
		t.Fatalf("GetOrCreateClassCode failed: %v", err)
	}

	c, err := s.GetClassCode(id, false)
	if err != nil {
		t.Fatalf("GetClassCode failed: %v", err)
	}
	if c.Description != "Класс ТД 0123456" {
		t.Errorf("Expected placeholder description, got %q", c.Description)
	}

	// KD and TD classifiers are separate tables
	if _, err := s.GetClassCode(id, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound in KD classifier, got %v", err)
	}
}

func TestGetOrCreateClassCodeValidation(t *testing.T) {
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	defer s.Close()

	cases := []struct {
		code string
		kd   bool
	}{
		{"", true},
		{"12345", true},    // KD needs 6 digits
		{"1234567", true},  // 7 digits is TD length
		{"12345а", true},
		{"123456", false},  // TD needs 7 digits
		{"12345678", false},
	}
	for _, c := range cases {
		if _, err := s.GetOrCreateClassCode(c.code, c.kd); !errors.Is(err, ErrInvalid) {
			t.Errorf("Expected ErrInvalid for code %q (kd=%v), got %v", c.code, c.kd, err)
		}
	}
}
