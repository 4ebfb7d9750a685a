package api

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"bagurumba/internal/provider"
)

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	overallStatus := "ok"
	statusCode := http.StatusOK
	recordComponent := func(component string, err error) componentStatus {
		status := "ok"
		message := ""
		if err != nil {
			status = "degraded"
			message = err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}
		return componentStatus{Component: component, Status: status, Error: message}
	}

	components := make([]componentStatus, 0, 2+len(h.Dependencies))
	if h.Users != nil {
		components = append(components, recordComponent("datastore", h.Users.Ping(ctx)))
	}

	if h.Provider != nil {
		err := h.Provider.HealthCheck(ctx)
		if errors.Is(err, provider.ErrDisabled) {
			components = append(components, componentStatus{Component: "provider", Status: "disabled"})
		} else {
			components = append(components, recordComponent("provider", err))
		}
	}

	names := make([]string, 0, len(h.Dependencies))
	for name := range h.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		components = append(components, recordComponent(name, h.Dependencies[name].Ping(ctx)))
	}

	return components, overallStatus, statusCode
}
