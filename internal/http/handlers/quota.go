package handlers

import (
	"net/http"

	"github.com/Namann-14/artifex/internal/domain"
	"github.com/Namann-14/artifex/internal/middleware"
)

type quotaView struct {
	OwnerID   string      `json:"ownerId"`
	Tier      domain.Tier `json:"tier"`
	Used      int         `json:"used"`
	Reserved  int         `json:"reserved"`
	Limit     int         `json:"limit"`
	Remaining int         `json:"remaining"`
}

func (a *App) MyQuota(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	caps, err := a.Capabilities.For(principal.Tier)
	if err != nil {
		a.error(w, r, http.StatusBadRequest, string(domain.ReasonValidation), err.Error())
		return
	}
	usage, err := a.Ledger.Usage(r.Context(), principal.OwnerID, caps.DailyUnits)
	if err != nil {
		a.Logger.Error().Err(err).Str("owner_id", principal.OwnerID).Msg("failed to load quota usage")
		a.error(w, r, http.StatusInternalServerError, string(domain.ReasonQuotaUnavailable), "quota service unavailable")
		return
	}
	a.json(w, r, http.StatusOK, quotaView{
		OwnerID:   principal.OwnerID,
		Tier:      principal.Tier,
		Used:      usage.Used,
		Reserved:  usage.Reserved,
		Limit:     usage.Limit,
		Remaining: usage.Remaining(),
	})
}
