//go:build integration

package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/guest-messenger/internal/booking"
	"github.com/sungwon/guest-messenger/internal/deliverylog"
	"github.com/sungwon/guest-messenger/internal/storage"
	"github.com/sungwon/guest-messenger/internal/templates"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func seedBookings(t *testing.T, repo *storage.BookingRepo) {
	t.Helper()
	ctx := context.Background()
	if err := repo.UpsertProperty(ctx, "P1", "Beach House", "1 Ocean Dr"); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertProperty(ctx, "P2", "Cabin", "2 Forest Rd"); err != nil {
		t.Fatal(err)
	}
	for _, b := range []booking.Booking{
		{Ref: "B1", GuestName: "Jane", PropertyID: "P1", CheckIn: date("2026-07-01"), CheckOut: date("2026-07-05")},
		{Ref: "B2", GuestName: "Ann", PropertyID: "P1", CheckIn: date("2026-07-10"), CheckOut: date("2026-07-12")},
		{Ref: "B3", GuestName: "Bob", PropertyID: "P2", CheckIn: date("2026-07-03"), CheckOut: date("2026-07-04")},
		{Ref: "B4", GuestName: "Cid", PropertyID: "P1", CheckIn: date("2026-07-02"), CheckOut: date("2026-07-03"), Status: "cancelled"},
	} {
		if err := repo.UpsertBooking(ctx, b); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBookingRepo_GetBookingDetails(t *testing.T) {
	resetTables(t)
	repo := storage.NewBookingRepo(sharedDB.Pool)
	seedBookings(t, repo)
	ctx := context.Background()

	b, err := repo.GetBookingDetails(ctx, "B1")
	if err != nil {
		t.Fatalf("GetBookingDetails failed: %v", err)
	}
	vars := b.Variables()
	if vars["guest_name"] != "Jane" || vars["property_name"] != "Beach House" {
		t.Errorf("unexpected variables: %v", vars)
	}
	if vars["check_in_date"] != "2026-07-01" {
		t.Errorf("expected check_in_date 2026-07-01, got %s", vars["check_in_date"])
	}

	_, err = repo.GetBookingDetails(ctx, "missing")
	if !errors.Is(err, booking.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBookingRepo_ListForBulk(t *testing.T) {
	resetTables(t)
	repo := storage.NewBookingRepo(sharedDB.Pool)
	seedBookings(t, repo)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter booking.BulkFilter
		want   []string
	}{
		{"open range", booking.BulkFilter{PropertyIDs: []string{"P1"}}, []string{"B1", "B2"}},
		{"both properties", booking.BulkFilter{PropertyIDs: []string{"P1", "P2"}}, []string{"B1", "B3", "B2"}},
		{"from bound", booking.BulkFilter{PropertyIDs: []string{"P1"}, CheckInFrom: date("2026-07-05")}, []string{"B2"}},
		{"until bound", booking.BulkFilter{PropertyIDs: []string{"P1", "P2"}, CheckInUntil: date("2026-07-03")}, []string{"B1", "B3"}},
		{"no match", booking.BulkFilter{PropertyIDs: []string{"P9"}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ListForBulk(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListForBulk failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d bookings, got %d", len(tt.want), len(got))
			}
			for i, ref := range tt.want {
				if got[i].Ref != ref {
					t.Errorf("position %d: expected %s, got %s", i, ref, got[i].Ref)
				}
			}
		})
	}
}

func TestTemplateRepo_SeedAndLookup(t *testing.T) {
	resetTables(t)
	repo := storage.NewTemplateRepo(sharedDB.Pool)
	ctx := context.Background()

	if err := templates.SeedDefaults(ctx, repo, zerolog.Nop()); err != nil {
		t.Fatalf("SeedDefaults failed: %v", err)
	}
	// Seeding twice must not overwrite or duplicate.
	if err := templates.SeedDefaults(ctx, repo, zerolog.Nop()); err != nil {
		t.Fatalf("second SeedDefaults failed: %v", err)
	}

	all, err := repo.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != len(templates.Defaults()) {
		t.Errorf("expected %d templates, got %d", len(templates.Defaults()), len(all))
	}

	welcome, err := repo.ForType(ctx, templates.TypeWelcome)
	if err != nil {
		t.Fatalf("ForType failed: %v", err)
	}
	if welcome.Name != "welcome_message" {
		t.Errorf("expected welcome_message, got %s", welcome.Name)
	}
	if len(welcome.Variables) == 0 {
		t.Error("expected variables to round-trip")
	}
}

func TestTemplateRepo_UpsertReplaces(t *testing.T) {
	resetTables(t)
	repo := storage.NewTemplateRepo(sharedDB.Pool)
	ctx := context.Background()

	tmpl := templates.Template{
		Name:      "custom_welcome",
		Type:      templates.TypeWelcome,
		Subject:   "Hello {{guest_name}}",
		Body:      "Welcome",
		Variables: []string{"guest_name"},
		Active:    true,
	}
	if err := repo.Upsert(ctx, tmpl); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	tmpl.Body = "Welcome back"
	if err := repo.Upsert(ctx, tmpl); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	inserted, err := repo.InsertIfAbsent(ctx, tmpl)
	if err != nil {
		t.Fatalf("InsertIfAbsent failed: %v", err)
	}
	if inserted {
		t.Error("expected InsertIfAbsent to skip an existing name")
	}

	got, err := repo.ForType(ctx, templates.TypeWelcome)
	if err != nil {
		t.Fatalf("ForType failed: %v", err)
	}
	if got.Body != "Welcome back" {
		t.Errorf("expected replaced body, got %q", got.Body)
	}

	_, err = repo.ForType(ctx, templates.TypeReviewRequest)
	if !errors.Is(err, templates.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeliveryLogRepo(t *testing.T) {
	resetTables(t)
	repo := storage.NewDeliveryLogRepo(sharedDB.Pool)
	ctx := context.Background()
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	entries := []deliverylog.Entry{
		{MessageID: "m1", BookingRef: "B1", Status: deliverylog.StatusSent, Attempts: 1, Timestamp: base},
		{MessageID: "m2", BookingRef: "B1", Status: deliverylog.StatusFailed, Attempts: 3, Timestamp: base.Add(time.Hour), Error: "channel rejected"},
		{MessageID: "m3", BookingRef: "B2", Status: deliverylog.StatusSent, Attempts: 1, Timestamp: base.Add(2 * time.Hour)},
	}
	for _, e := range entries {
		if err := repo.Append(ctx, e); err != nil {
			t.Fatalf("Append %s failed: %v", e.MessageID, err)
		}
	}

	err := repo.Append(ctx, entries[0])
	if !errors.Is(err, deliverylog.ErrAlreadyLogged) {
		t.Errorf("expected ErrAlreadyLogged, got %v", err)
	}

	history, err := repo.History(ctx, "B1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].MessageID != "m2" || history[1].MessageID != "m1" {
		t.Fatalf("expected newest-first [m2 m1], got %+v", history)
	}
	if history[0].Error != "channel rejected" || history[0].Attempts != 3 {
		t.Errorf("unexpected failed entry: %+v", history[0])
	}

	n, err := repo.CountSince(ctx, deliverylog.StatusSent, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 sent since cutoff, got %d", n)
	}
}
