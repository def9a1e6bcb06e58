// Package webhook is a sink that posts every upstream item as JSON.
package webhook

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"git.home.luguber.info/inful/washer/internal/httpqueue"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/model"
	"git.home.luguber.info/inful/washer/internal/settings"
	"git.home.luguber.info/inful/washer/internal/washer"
)

const (
	settingURL   = "url"
	settingToken = "token"
)

var Type = washer.Type{
	Name:        "webhook",
	Title:       "Webhook",
	Description: "Posts each item as JSON to a URL.",
	Kind:        washer.KindSink,
	Settings: washer.SinkSettings.With(
		settings.Option{Name: settingURL, Description: "Endpoint receiving POST requests", Required: true, Parse: settings.URL},
		settings.Option{Name: settingToken, Description: "Bearer token; requests sharing a token are sent one at a time", Parse: settings.String},
	),
	New: New,
}

// Payload is the request body.
type Payload struct {
	Stage string     `json:"stage"`
	Item  model.Item `json:"item"`
}

// Hook is the stage implementation.
type Hook struct {
	*washer.Base
}

func New(b *washer.Base) (washer.Washer, error) {
	return &Hook{Base: b}, nil
}

// Run posts items in order and stops at the first failure. Rate limited
// requests wait in the queue and are sent again.
func (h *Hook) Run(ctx context.Context, in []model.Item) error {
	endpoint := h.Settings.String(settingURL)
	token := h.Settings.String(settingToken)
	key := "webhook:" + cmp.Or(token, endpoint)

	for _, item := range in {
		body, err := json.Marshal(Payload{Stage: h.ID, Item: item})
		if err != nil {
			return fmt.Errorf("encode %s: %w", item.URL, err)
		}
		req := httpqueue.Request{
			Method: http.MethodPost,
			URL:    endpoint,
			Header: http.Header{"Content-Type": []string{"application/json"}},
			Body:   body,
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		if _, err := h.HTTP(ctx, key, req, nil); err != nil {
			return fmt.Errorf("post %s: %w", item.URL, err)
		}
		h.Logger.Debug("Posted item", logfields.URL(item.URL))
	}
	return nil
}
