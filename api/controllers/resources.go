package controllers

import (
	"net/http"
	"strings"

	"github.com/varga-labs/gridbroker-backend/api/responses"
	"github.com/varga-labs/gridbroker-backend/api/validators"
	"github.com/varga-labs/gridbroker-backend/internal/inventory"
	"github.com/varga-labs/gridbroker-backend/pkg/enums"
	pkgerrors "github.com/varga-labs/gridbroker-backend/pkg/errors"
	"github.com/varga-labs/gridbroker-backend/pkg/logger"
)

type seedResourcesRequest struct {
	Resources []seedResourceEntry `json:"resources" validate:"required,min=1,dive"`
}

type seedResourceEntry struct {
	ResourceType string `json:"resource_type" validate:"required"`
	TotalUnits   int    `json:"total_units" validate:"required,min=1"`
}

func ResourceList(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resources, err := svc.ListResources(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resources)
	}
}

// ResourceSeed upserts pool capacity. Routed only outside production.
func ResourceSeed(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body seedResourcesRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		inputs := make([]inventory.SeedResourceInput, 0, len(body.Resources))
		for _, entry := range body.Resources {
			resourceType := enums.ResourceType(strings.ToUpper(strings.TrimSpace(entry.ResourceType)))
			if !resourceType.IsValid() {
				responses.WriteError(r.Context(), logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "invalid resource type").
						WithDetails(map[string]string{"resource_type": entry.ResourceType}))
				return
			}
			inputs = append(inputs, inventory.SeedResourceInput{
				ResourceType: resourceType,
				TotalUnits:   entry.TotalUnits,
			})
		}

		if err := svc.Seed(r.Context(), inputs); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]int{"seeded": len(inputs)})
	}
}
