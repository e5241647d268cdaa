package services

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
)

func TestOrganizationService_CreateNormalizesName(t *testing.T) {
	svc := NewOrganizationService(newSvcDB(t))
	ctx := context.Background()

	o, err := svc.Create(ctx, "  acme   logistics ", " freight ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.Name != "Acme Logistics" || o.Description != "freight" {
		t.Fatalf("unexpected organization %+v", o)
	}
	// NoLower keeps acronyms intact
	if o2, err := svc.Create(ctx, "ACME EU", ""); err != nil || o2.Name != "ACME EU" {
		t.Fatalf("create acronym: %+v %v", o2, err)
	}

	if _, err := svc.Create(ctx, "Acme logistics", ""); !errors.Is(err, ErrDuplicateOrganization) {
		t.Fatalf("expected ErrDuplicateOrganization, got %v", err)
	}
	if _, err := svc.Create(ctx, "   ", ""); !errors.Is(err, ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
}

func TestOrganizationService_ListGetUpdateDelete(t *testing.T) {
	db := newSvcDB(t)
	svc := NewOrganizationService(db)
	ctx := context.Background()

	a, _ := svc.Create(ctx, "beta", "")
	b, _ := svc.Create(ctx, "alpha", "")
	chat := seedChat(t, db, "c1@s.whatsapp.net")
	if err := repo.AssignOrganization(ctx, db, chat.ID, &a.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	list, err := svc.List(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %v %v", list, err)
	}
	if list[0].Name != "Alpha" || list[0].ChatCount != 0 || list[1].ChatCount != 1 {
		t.Fatalf("unexpected listing %+v", list)
	}

	got, err := svc.Get(ctx, a.ID)
	if err != nil || got.ChatCount != 1 {
		t.Fatalf("get: %+v %v", got, err)
	}
	if _, err := svc.Get(ctx, "missing"); !errors.Is(err, ErrOrganizationNotFound) {
		t.Fatalf("expected ErrOrganizationNotFound, got %v", err)
	}

	if _, err := svc.Update(ctx, "missing", "x", ""); !errors.Is(err, ErrOrganizationNotFound) {
		t.Fatalf("expected ErrOrganizationNotFound, got %v", err)
	}
	if _, err := svc.Update(ctx, b.ID, "beta", ""); !errors.Is(err, ErrDuplicateOrganization) {
		t.Fatalf("expected ErrDuplicateOrganization, got %v", err)
	}
	up, err := svc.Update(ctx, b.ID, "gamma", "third")
	if err != nil || up.Name != "Gamma" || up.Description != "third" {
		t.Fatalf("update: %+v %v", up, err)
	}

	n, err := svc.Delete(ctx, a.ID)
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	c, _ := repo.GetChat(ctx, db, chat.ID)
	if c.OrganizationID != nil {
		t.Fatalf("chat still references deleted organization")
	}
	if _, err := svc.Delete(ctx, a.ID); !errors.Is(err, ErrOrganizationNotFound) {
		t.Fatalf("expected ErrOrganizationNotFound, got %v", err)
	}
}
