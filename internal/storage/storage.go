// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"botdash/internal/model"
)

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	SaveListing(ctx context.Context, l *model.Listing) error
	GetListing(ctx context.Context, id string) (*model.Listing, error)
	RecentVisibleListings(ctx context.Context, limit int) ([]model.Listing, error)
	RecentListings(ctx context.Context, limit int) ([]model.Listing, error)
	SetListingStatus(ctx context.Context, id string, status model.ListingStatus) error
	SetListingCategory(ctx context.Context, id string, category model.Category) error
	SetListingFilter(ctx context.Context, id string, status, reason *string) error
	DeleteListing(ctx context.Context, id string) error
	CountListings(ctx context.Context) (int, error)
	SubscribeListings(fn func(model.Change)) (unsubscribe func())

	GetSentMessage(ctx context.Context, listingID string) (*model.SentMessage, error)
	CountSentMessages(ctx context.Context, status string) (int, error)

	CreateTemplate(ctx context.Context, t *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListTemplates(ctx context.Context, kind model.TemplateKind) ([]model.Template, error)
	UpdateTemplate(ctx context.Context, t *model.Template) error
	SetTemplateActive(ctx context.Context, id string, active bool) error
	DeleteTemplate(ctx context.Context, id string) error

	Close() error
}
