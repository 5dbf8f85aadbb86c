package permission

import (
	"strings"
	"testing"
)

func TestGrantRejectsMissingDescriptionWithExample(t *testing.T) {
	s := NewStore(nil)
	err := s.Grant(Capability{Type: TypeHTTP, Host: "example.com"})
	if err == nil {
		t.Fatal("expected validation error for missing description")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Field != "description" {
		t.Fatalf("expected field 'description', got %q", ve.Field)
	}
	if ve.Example.Type != TypeHTTP {
		t.Fatal("expected a worked example to be attached")
	}
}

func asValidationError(err error, out **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*out = ve
	}
	return ok
}

func TestClearThenGrantThenList(t *testing.T) {
	s := NewStore(nil)
	cap := Capability{Type: TypeHTTP, Host: "example.com", Description: "x"}
	if err := s.Grant(cap); err != nil {
		t.Fatal(err)
	}
	s.Clear()
	if err := s.Grant(cap); err != nil {
		t.Fatal(err)
	}
	got := s.List()
	if len(got) != 1 || !got[0].StructurallyEquals(cap) {
		t.Fatalf("expected list == [cap], got %+v", got)
	}
}

func TestGrantThenRevokeIsUndoForStructuralEquals(t *testing.T) {
	s := NewStore(nil)
	cap := Capability{Type: TypeHTTP, Host: "example.com", Methods: []string{MethodGet, MethodPost}, Description: "x"}
	required := Capability{Type: TypeHTTP, Host: "example.com", Methods: []string{MethodGet}, Description: "y"}

	before := s.Check(required)

	if err := s.Grant(cap); err != nil {
		t.Fatal(err)
	}
	// Structurally-equal capability with methods listed in a different order.
	equalButReordered := Capability{Type: TypeHTTP, Host: "example.com", Methods: []string{MethodPost, MethodGet}, Description: "x"}
	if !s.Revoke(equalButReordered) {
		t.Fatal("expected revoke of structurally-equal capability to succeed")
	}

	after := s.Check(required)
	if before != after {
		t.Fatalf("expected check result to match pre-grant store: before=%v after=%v", before, after)
	}
	if len(s.List()) != 0 {
		t.Fatal("expected store to be empty after grant;revoke of structural equals")
	}
}

func TestRevokeReportsWhetherAnythingWasRemoved(t *testing.T) {
	s := NewStore(nil)
	cap := Capability{Type: TypeHTTP, Host: "example.com", Description: "x"}
	if s.Revoke(cap) {
		t.Fatal("expected revoke on empty store to report false")
	}
	if err := s.Grant(cap); err != nil {
		t.Fatal(err)
	}
	if !s.Revoke(cap) {
		t.Fatal("expected revoke of granted capability to report true")
	}
	if s.Revoke(cap) {
		t.Fatal("expected second revoke to report false")
	}
}

func TestCheckExistentialOverGrantedSet(t *testing.T) {
	s := NewStore(nil)
	_ = s.Grant(Capability{Type: TypeHTTP, Host: "a.example.com", Description: "a"})
	_ = s.Grant(Capability{Type: TypeHTTP, Host: "b.example.com", Description: "b"})

	if !s.Check(Capability{Type: TypeHTTP, Host: "b.example.com", Description: "req"}) {
		t.Fatal("expected check to find match among multiple granted capabilities")
	}
	if s.Check(Capability{Type: TypeHTTP, Host: "c.example.com", Description: "req"}) {
		t.Fatal("expected check to fail for ungranted host")
	}
}

type recordingLogger struct{ lines []string }

func (r *recordingLogger) Printf(format string, v ...any) {
	r.lines = append(r.lines, format)
}

func TestGrantAndRevokeEmitAuditLines(t *testing.T) {
	logger := &recordingLogger{}
	s := NewStore(logger)
	cap := Capability{Type: TypeHTTP, Host: "example.com", Description: "x"}
	_ = s.Grant(cap)
	_ = s.Revoke(cap)
	if len(logger.lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d: %v", len(logger.lines), logger.lines)
	}
	if !strings.HasPrefix(logger.lines[0], "GRANTED") {
		t.Fatalf("expected first line to start with GRANTED, got %q", logger.lines[0])
	}
	if !strings.HasPrefix(logger.lines[1], "REVOKED") {
		t.Fatalf("expected second line to start with REVOKED, got %q", logger.lines[1])
	}
}
