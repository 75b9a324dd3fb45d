package store

import (
	"strings"
	"testing"

	"github.com/dunamismax/promptpeek/internal/domain"
)

func TestBuildListQuery(t *testing.T) {
	query, args := buildListQuery(domain.ListFilter{
		UserID:      "u1",
		Tag:         "anime",
		FavoritedBy: "u2",
	}.Normalize())

	for _, fragment := range []string{
		"a.status = $1",
		"a.user_id = $2",
		"$3 = ANY(a.tags)",
		"fb.user_id = $4",
		"ORDER BY a.created_at DESC",
		"LIMIT $5",
		"OFFSET $6",
	} {
		if !strings.Contains(query, fragment) {
			t.Fatalf("expected query to contain %q:\n%s", fragment, query)
		}
	}

	if len(args) != 6 {
		t.Fatalf("expected 6 args, got %d", len(args))
	}
	if args[4] != domain.DefaultListLimit {
		t.Fatalf("expected default limit arg, got %v", args[4])
	}
}

func TestBuildListQueryLikedBy(t *testing.T) {
	query, args := buildListQuery(domain.ListFilter{LikedBy: "u3"}.Normalize())

	if !strings.Contains(query, "EXISTS (SELECT 1 FROM likes lb WHERE lb.artwork_id = a.id AND lb.user_id = $2)") {
		t.Fatalf("expected liked_by predicate:\n%s", query)
	}
	if len(args) != 4 || args[1] != "u3" {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildListQueryIncludeAllSkipsStatus(t *testing.T) {
	query, args := buildListQuery(domain.ListFilter{IncludeAll: true}.Normalize())
	if strings.Contains(query, "a.status = $") {
		t.Fatalf("expected no status predicate:\n%s", query)
	}
	if strings.Contains(query, "WHERE") {
		t.Fatalf("expected no WHERE clause:\n%s", query)
	}
	if len(args) != 2 {
		t.Fatalf("expected limit and offset args, got %d", len(args))
	}
}
