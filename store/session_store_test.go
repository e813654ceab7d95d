package store

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"funnelpulse/api/models"
)

func strptr(s string) *string { return &s }

func TestBuildSessionUpdateSet(t *testing.T) {
	lastSeen := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	tt := []struct {
		name     string
		upd      models.SessionUpdate
		wantSet  string
		wantArgs []interface{}
	}{
		{
			name:     "bump only",
			upd:      models.SessionUpdate{LastSeenAt: lastSeen},
			wantSet:  "last_seen_at = $1",
			wantArgs: []interface{}{lastSeen},
		},
		{
			name:     "email backfill",
			upd:      models.SessionUpdate{Email: strptr("jane@example.com"), LastSeenAt: lastSeen},
			wantSet:  "email = $1, last_seen_at = $2",
			wantArgs: []interface{}{"jane@example.com", lastSeen},
		},
		{
			name: "all signals plus page views",
			upd: models.SessionUpdate{
				Email:          strptr("jane@example.com"),
				ExternalUserID: strptr("user-9"),
				OrderID:        strptr("ORD-1"),
				LastPageURL:    strptr("/checkout"),
				PageViewDelta:  3,
				LastSeenAt:     lastSeen,
			},
			wantSet: "email = $1, external_user_id = $2, order_id = $3, " +
				"last_page_url = $4, page_view_count = page_view_count + $5, last_seen_at = $6",
			wantArgs: []interface{}{"jane@example.com", "user-9", "ORD-1", "/checkout", 3, lastSeen},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			set, args := buildSessionUpdateSet(tc.upd)
			if set != tc.wantSet {
				t.Errorf("set clause:\ngot  %q\nwant %q", set, tc.wantSet)
			}
			if !reflect.DeepEqual(args, tc.wantArgs) {
				t.Errorf("args:\ngot  %v\nwant %v", args, tc.wantArgs)
			}
		})
	}
}

func TestBuildSessionUpdateSetDefaultsLastSeen(t *testing.T) {
	set, args := buildSessionUpdateSet(models.SessionUpdate{})
	if !strings.Contains(set, "last_seen_at") {
		t.Fatalf("expected last_seen_at to always be bumped, got %q", set)
	}
	ts, ok := args[len(args)-1].(time.Time)
	if !ok {
		t.Fatalf("expected time argument, got %T", args[len(args)-1])
	}
	if time.Since(ts) > time.Minute {
		t.Errorf("expected a recent default last_seen_at, got %v", ts)
	}
}
