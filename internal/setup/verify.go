package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/njoerd114/roomsync/internal/config"
	"github.com/njoerd114/roomsync/internal/graph"
	"github.com/njoerd114/roomsync/internal/model"
)

// Verify acquires an application token for g and lists the tenant's
// buildings, proving the registration can read the places API.
func Verify(ctx context.Context, g config.GraphConfig, logger *slog.Logger) ([]model.Building, error) {
	client, err := graph.NewClient(graph.Options{
		BaseURL:     g.BaseURL,
		Timeout:     g.Timeout,
		BreakerName: "graph-setup",
	}, logger)
	if err != nil {
		return nil, err
	}

	tokens := graph.NewAppTokenSource(ctx, graph.TokenConfig{
		AuthorityURL: g.AuthorityURL,
		TenantID:     g.TenantID,
		ClientID:     g.ClientID,
		ClientSecret: g.ClientSecret,
	})
	token, err := tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w\n\n  Check the tenant ID, client ID and secret", err)
	}

	buildings, err := graph.NewPlaces(client, logger).ListBuildings(ctx, token)
	var apiErr *graph.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusForbidden || apiErr.StatusCode == http.StatusUnauthorized) {
		return nil, fmt.Errorf("%w\n\n  Grant the app the Place.Read.All application permission and admin consent", err)
	}
	if err != nil {
		return nil, err
	}
	return buildings, nil
}
