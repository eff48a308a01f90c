package nats

import "testing"

func TestValidateSubjectAcceptsLiterals(t *testing.T) {
	for _, subject := range []string{"orders", "orders.created", "a.b.c.d", "$JS.API.INFO", "_INBOX.abc123"} {
		if err := ValidateSubject(subject, false); err != nil {
			t.Fatalf("expected %q to be valid, got %v", subject, err)
		}
	}
}

func TestValidateSubjectAcceptsWildcardPatterns(t *testing.T) {
	for _, pattern := range []string{"orders.*", "*.created", "orders.>", ">", "*.*.shipped"} {
		if err := ValidateSubject(pattern, true); err != nil {
			t.Fatalf("expected %q to be a valid pattern, got %v", pattern, err)
		}
	}
}

func TestValidateSubjectRejectsMalformedInput(t *testing.T) {
	cases := []struct {
		subject        string
		allowWildcards bool
	}{
		{"", true},
		{"orders created", true},
		{"orders\tcreated", true},
		{"orders.", true},
		{".orders", true},
		{"orders..created", true},
		{"orders.>.created", true},
		{"orders.abc*", true},
		{"orders.a>b", true},
		{"orders.*", false},
		{"orders.>", false},
	}

	for _, c := range cases {
		if err := ValidateSubject(c.subject, c.allowWildcards); err == nil {
			t.Fatalf("expected %q (wildcards=%v) to be rejected", c.subject, c.allowWildcards)
		}
	}
}

func TestValidateQueueName(t *testing.T) {
	if err := ValidateQueueName("workers"); err != nil {
		t.Fatalf("expected 'workers' to be valid, got %v", err)
	}
	for _, queue := range []string{"", "work ers", "work.ers", "work*", "work>"} {
		if err := ValidateQueueName(queue); err == nil {
			t.Fatalf("expected queue %q to be rejected", queue)
		}
	}
}

func TestMatchSubject(t *testing.T) {
	cases := []struct {
		subject string
		pattern string
		match   bool
	}{
		{"orders.created", "orders.created", true},
		{"orders.created", "orders.*", true},
		{"orders.created", "*.created", true},
		{"orders.created", "orders.>", true},
		{"orders.created.eu", "orders.>", true},
		{"orders.created.eu", ">", true},
		{"orders", ">", true},
		{"orders.created", "*.*", true},

		{"orders.created", "orders.shipped", false},
		{"orders.created", "orders", false},
		{"orders", "orders.*", false},
		{"orders", "orders.>", false},
		{"orders.created.eu", "orders.*", false},
		{"orders.created", "*.*.*", false},
	}

	for _, c := range cases {
		if got := MatchSubject(c.subject, c.pattern); got != c.match {
			t.Fatalf("MatchSubject(%q, %q) = %v, expected %v", c.subject, c.pattern, got, c.match)
		}
	}
}

func TestMatchSubjectTrailingWildcardNeedsOneToken(t *testing.T) {
	if MatchSubject("orders", "orders.>") {
		t.Fatalf("'>' must not match zero remaining tokens")
	}
	if !MatchSubject("orders.x", "orders.>") {
		t.Fatalf("'>' must match a single remaining token")
	}
}
