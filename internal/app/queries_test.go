package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/transfa/payroll-service/internal/domain"
	"github.com/transfa/payroll-service/pkg/gridclient"
)

func TestGetTreasuryView(t *testing.T) {
	f := newFixture(t)
	confirmed := "2026-10-01T09:00:00Z"
	f.gateway.balance = &gridclient.Balance{Amount: mustDecimal("2500.50")}
	f.gateway.transfers = []gridclient.Transfer{
		{ID: "tr_1", Amount: mustDecimal("1000"), Status: "confirmed", Destination: "PayeeWallet1", ConfirmedAt: &confirmed},
	}

	view, err := f.svc.GetTreasuryView(context.Background(), f.memberID, f.orgID)
	if err != nil {
		t.Fatalf("GetTreasuryView returned error: %v", err)
	}
	if view.TreasuryAddress != testTreasury || view.Balance != "2500.5" {
		t.Fatalf("unexpected treasury view: %+v", view)
	}
	if view.Currency != "USDC" {
		t.Fatalf("expected configured currency when provider omits it, got %q", view.Currency)
	}
	if len(view.Transfers) != 1 || view.Transfers[0].ID != "tr_1" || view.Transfers[0].Amount != "1000" {
		t.Fatalf("unexpected transfers: %+v", view.Transfers)
	}
}

func TestGetTreasuryViewProviderUnavailable(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetTreasuryView(context.Background(), f.ownerID, f.orgID)
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestListStreamsRequiresMembership(t *testing.T) {
	f := newFixture(t)
	mine := f.seedStream(domain.StreamStatusActive)
	other := f.seedStream(domain.StreamStatusActive)
	other.OrganizationID = uuid.New()

	streams, err := f.svc.ListStreams(context.Background(), f.memberID, f.orgID)
	if err != nil {
		t.Fatalf("ListStreams returned error: %v", err)
	}
	if len(streams) != 1 || streams[0].ID != mine.ID {
		t.Fatalf("expected only the organization's stream, got %+v", streams)
	}

	if _, err := f.svc.ListStreams(context.Background(), uuid.New(), f.orgID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for outsider, got %v", err)
	}
}

func TestListStreamRunsUnknownStream(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.ListStreamRuns(context.Background(), f.ownerID, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
