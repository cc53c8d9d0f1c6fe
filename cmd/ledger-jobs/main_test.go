package main

import "testing"

func TestParseIds(t *testing.T) {
	ids, err := parseIds(" 3, 1,,2 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[1] != 1 || ids[2] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, err := parseIds("1,x"); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}
