package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OrganizationService manages the groupings chats are assigned to.
type OrganizationService struct {
	DB *gorm.DB

	// NameLocale drives title-casing of organization names.
	NameLocale language.Tag
	// NameMaxLen caps stored names by rune length.
	NameMaxLen int
}

// NewOrganizationService constructs an OrganizationService with defaults.
func NewOrganizationService(db *gorm.DB) *OrganizationService {
	return &OrganizationService{DB: db, NameLocale: language.Und, NameMaxLen: 120}
}

// OrganizationView is an organization with its member count.
type OrganizationView struct {
	domain.Organization
	ChatCount int64 `json:"chat_count"`
}

// Create stores a new organization. Names are whitespace-normalized and
// title-cased; a name already in use returns ErrDuplicateOrganization.
func (s *OrganizationService) Create(ctx context.Context, name, description string) (*domain.Organization, error) {
	tr := otel.Tracer("services/OrganizationService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	name = s.normalizeName(name)
	if name == "" {
		return nil, ErrInvalidOrganization
	}
	o, err := repo.CreateOrganization(ctx, s.DB, name, strings.TrimSpace(description))
	if errors.Is(err, repo.ErrDuplicate) {
		return nil, ErrDuplicateOrganization
	}
	return o, err
}

// List returns every organization with its chat count, ordered by name.
func (s *OrganizationService) List(ctx context.Context) ([]OrganizationView, error) {
	tr := otel.Tracer("services/OrganizationService")
	ctx, span := tr.Start(ctx, "List")
	defer span.End()

	orgs, err := repo.ListOrganizations(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	counts, err := repo.CountChatsByOrganization(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]OrganizationView, 0, len(orgs))
	for _, o := range orgs {
		out = append(out, OrganizationView{Organization: o, ChatCount: counts[o.ID]})
	}
	return out, nil
}

// Get returns one organization with its chat count.
func (s *OrganizationService) Get(ctx context.Context, id string) (*OrganizationView, error) {
	tr := otel.Tracer("services/OrganizationService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(attribute.String("organization.id", id)),
	)
	defer span.End()

	o, err := repo.GetOrganization(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrOrganizationNotFound
	}
	if err != nil {
		return nil, err
	}
	n, err := repo.CountChats(ctx, s.DB, repo.ChatFilter{OrganizationID: id})
	if err != nil {
		return nil, err
	}
	return &OrganizationView{Organization: *o, ChatCount: n}, nil
}

// Update renames or re-describes an organization.
func (s *OrganizationService) Update(ctx context.Context, id, name, description string) (*domain.Organization, error) {
	tr := otel.Tracer("services/OrganizationService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(attribute.String("organization.id", id)),
	)
	defer span.End()

	name = s.normalizeName(name)
	if name == "" {
		return nil, ErrInvalidOrganization
	}
	o, err := repo.UpdateOrganization(ctx, s.DB, id, name, strings.TrimSpace(description))
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		return nil, ErrDuplicateOrganization
	case errors.Is(err, repo.ErrNotFound):
		return nil, ErrOrganizationNotFound
	}
	return o, err
}

// Delete removes an organization and detaches its chats. It returns how many
// chats were detached.
func (s *OrganizationService) Delete(ctx context.Context, id string) (int64, error) {
	tr := otel.Tracer("services/OrganizationService")
	ctx, span := tr.Start(ctx, "Delete",
		trace.WithAttributes(attribute.String("organization.id", id)),
	)
	defer span.End()

	n, err := repo.DeleteOrganization(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, ErrOrganizationNotFound
	}
	return n, err
}

// normalizeName trims, collapses whitespace, title-cases and clips a name.
func (s *OrganizationService) normalizeName(name string) string {
	name = whitespaceRE.ReplaceAllString(strings.TrimSpace(name), " ")
	if name == "" {
		return ""
	}
	name = cases.Title(s.NameLocale, cases.NoLower).String(name)
	if s.NameMaxLen > 0 && utf8.RuneCountInString(name) > s.NameMaxLen {
		name = strings.TrimSpace(string([]rune(name)[:s.NameMaxLen]))
	}
	return name
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
