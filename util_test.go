// Copyright 2012 Apcera Inc. All rights reserved.

package nats

import "testing"

func TestValidateSubjectPublish(t *testing.T) {
	good := []string{"foo", "foo.bar", "foo.bar.baz", "FOO.BAR-1_2"}
	for _, s := range good {
		if err := validateSubject(s, false); err != nil {
			t.Errorf("validateSubject(%q, false) unexpected error: %v", s, err)
		}
	}
	bad := []string{"", "foo.", ".foo", "foo..bar", "foo.*", "foo.>"}
	for _, s := range bad {
		if err := validateSubject(s, false); err == nil {
			t.Errorf("validateSubject(%q, false) expected error, got nil", s)
		}
	}
}

func TestValidateSubjectSubscribeWildcards(t *testing.T) {
	good := []string{"foo.*", "foo.*.bar", "foo.>", "*", ">"}
	for _, s := range good {
		if err := validateSubject(s, true); err != nil {
			t.Errorf("validateSubject(%q, true) unexpected error: %v", s, err)
		}
	}
	bad := []string{"foo.>.bar", "foo.>.>.bar"}
	for _, s := range bad {
		if err := validateSubject(s, true); err == nil {
			t.Errorf("validateSubject(%q, true) expected error (> must be trailing), got nil", s)
		}
	}
}

func TestValidateQueueName(t *testing.T) {
	if err := validateQueueName("workers"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := validateQueueName(""); err == nil {
		t.Error("expected error for empty queue name")
	}
	if err := validateQueueName("bad name"); err == nil {
		t.Error("expected error for whitespace in queue name")
	}
}

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		pattern, literal string
		want             bool
	}{
		{"foo.bar", "foo.bar", true},
		{"foo.*", "foo.bar", true},
		{"foo.*", "foo.bar.baz", false},
		{"foo.>", "foo.bar.baz", true},
		{"foo.>", "foo", false},
		{"foo.bar", "foo.baz", false},
	}
	for _, c := range cases {
		if got := subjectMatches(c.pattern, c.literal); got != c.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", c.pattern, c.literal, got, c.want)
		}
	}
}
