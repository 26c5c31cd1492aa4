package offers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/chris/p2p-escrow-ledger/pkg/api"
	"github.com/chris/p2p-escrow-ledger/pkg/catalog"
	"github.com/chris/p2p-escrow-ledger/pkg/escrow"
	"github.com/chris/p2p-escrow-ledger/pkg/handlers/respond"
	"github.com/chris/p2p-escrow-ledger/pkg/mapping"
	"github.com/chris/p2p-escrow-ledger/pkg/models"
)

// Catalog is the offer side of the catalog.
type Catalog interface {
	CreateOffer(ctx context.Context, caller string, in catalog.NewOffer) (string, *models.Offer, error)
	Lookup(ctx context.Context, offerID string) (*models.Offer, error)
	CompleteOffer(ctx context.Context, offer *models.Offer) (*catalog.OfferView, error)
	ListOffers(ctx context.Context, f catalog.Filter) ([]catalog.OfferView, error)
	SetOfferStatus(ctx context.Context, caller, offerID string, active bool) (*models.Offer, error)
	ClearOffers(ctx context.Context) (int, error)
}

// OffersHandler holds the dependencies for offer-related handlers.
type OffersHandler struct {
	Catalog Catalog
	IsAdmin func(caller string) bool
}

// NewOffersHandler creates a new OffersHandler.
func NewOffersHandler(c Catalog, isAdmin func(string) bool) *OffersHandler {
	return &OffersHandler{Catalog: c, IsAdmin: isAdmin}
}

// CreateOffer publishes an offer for the caller. A sell offer the caller
// cannot cover is refused with a soft status.
func (h *OffersHandler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.NewOffer
	if !respond.Decode(w, r, &body) {
		return
	}
	in, err := mapping.ToDomainNewOffer(&body)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	status, offer, err := h.Catalog.CreateOffer(r.Context(), caller, in)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	code := http.StatusOK
	if status == catalog.StatusOfferCreated {
		code = http.StatusCreated
	}
	respond.JSON(w, code, api.OfferCreated{Status: status, Offer: offer})
}

func (h *OffersHandler) ListOffers(w http.ResponseWriter, r *http.Request, params api.ListOffersParams) {
	filter, err := mapping.ToDomainFilter(params)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	views, err := h.Catalog.ListOffers(r.Context(), filter)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, views)
}

func (h *OffersHandler) GetOffer(w http.ResponseWriter, r *http.Request, offerId string) {
	offer, err := h.Catalog.Lookup(r.Context(), offerId)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	view, err := h.Catalog.CompleteOffer(r.Context(), offer)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, view)
}

func (h *OffersHandler) SetOfferStatus(w http.ResponseWriter, r *http.Request, offerId string) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	var body api.OfferStatusRequest
	if !respond.Decode(w, r, &body) {
		return
	}
	offer, err := h.Catalog.SetOfferStatus(r.Context(), caller, offerId, body.Active)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, offer)
}

// ClearOffers drops every offer. Admin only.
func (h *OffersHandler) ClearOffers(w http.ResponseWriter, r *http.Request) {
	caller, ok := respond.Caller(w, r)
	if !ok {
		return
	}
	if !h.IsAdmin(caller) {
		respond.Error(w, r, fmt.Errorf("%w: %s", escrow.ErrUnauthorized, caller))
		return
	}
	n, err := h.Catalog.ClearOffers(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, api.ClearResponse{Deleted: n})
}
