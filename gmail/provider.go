// Package gmail implements fetch.Provider on top of the Gmail REST API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/dhcgn/mail-export/fetch"
)

const userID = "me"

var ErrEmptyRaw = errors.New("message has no raw content")

type Provider struct {
	svc    *gmailapi.Service
	logger *slog.Logger
}

// NewProvider creates a Gmail client. Authentication is supplied through opts,
// typically option.WithTokenSource.
func NewProvider(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*Provider, error) {
	svc, err := gmailapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{svc: svc, logger: logger}, nil
}

func (p *Provider) ListMessageIDs(ctx context.Context, label string, pageSize int, pageToken string) (fetch.Page, error) {
	call := p.svc.Users.Messages.List(userID).
		MaxResults(int64(pageSize)).
		Context(ctx)
	if label != "" {
		call = call.LabelIds(label)
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return fetch.Page{}, describe("list messages", err)
	}

	page := fetch.Page{
		IDs:           make([]string, 0, len(resp.Messages)),
		NextPageToken: resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}

	p.logger.Debug("gmail list page", "label", label, "count", len(page.IDs), "estimate", resp.ResultSizeEstimate, "hasNext", page.NextPageToken != "")
	return page, nil
}

func (p *Provider) GetRawMessage(ctx context.Context, id string) ([]byte, error) {
	msg, err := p.svc.Users.Messages.Get(userID, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, describe("get message", err)
	}
	return DecodeRaw(msg.Raw)
}

func (p *Provider) Labels(ctx context.Context) ([]fetch.Label, error) {
	resp, err := p.svc.Users.Labels.List(userID).Context(ctx).Do()
	if err != nil {
		return nil, describe("list labels", err)
	}
	labels := make([]fetch.Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		labels = append(labels, fetch.Label{ID: l.Id, Name: l.Name})
	}
	return labels, nil
}

// DecodeRaw decodes the base64url payload of a message fetched with format=raw.
func DecodeRaw(raw string) ([]byte, error) {
	if raw == "" {
		return nil, ErrEmptyRaw
	}
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err == nil {
		return decoded, nil
	}
	decoded, rawErr := base64.RawURLEncoding.DecodeString(raw)
	if rawErr != nil {
		return nil, fmt.Errorf("decode raw message: %w", err)
	}
	return decoded, nil
}

func describe(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: gmail api status %d: %w", op, apiErr.Code, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
