package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/engagement-analysis/advert-sync/internal/httpclient"
	"github.com/engagement-analysis/advert-sync/internal/logger"
)

const (
	fieldsPath   = "/api/v2/fields.json"
	groupsPath   = "/api/v2/groups.json"
	contactsPath = "/api/v2/contacts.json"

	// maxPages guards against a workspace returning a cursor loop
	maxPages = 10000
)

// page is one page of a RapidPro list endpoint
type page[T any] struct {
	Next    *string `json:"next"`
	Results []T     `json:"results"`
}

// RapidProClient implements Service against the RapidPro v2 API
type RapidProClient struct {
	baseURL string
	client  httpclient.Client
}

// NewRapidProClient creates a client for the workspace at baseURL. The
// httpclient must already carry the Authorization header.
func NewRapidProClient(baseURL string, client httpclient.Client) *RapidProClient {
	return &RapidProClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// ListFields returns every contact field in the workspace
func (c *RapidProClient) ListFields(ctx context.Context) ([]Field, error) {
	fields, err := listAll[Field](ctx, c.client, c.baseURL+fieldsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact fields: %w", err)
	}
	return fields, nil
}

// CreateField creates a text field with the given label
func (c *RapidProClient) CreateField(ctx context.Context, label string) (*Field, error) {
	body, err := c.client.PostJSON(ctx, c.baseURL+fieldsPath, map[string]string{
		"label":      label,
		"value_type": "text",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create contact field %s: %w", label, err)
	}
	var field Field
	if err := json.Unmarshal(body, &field); err != nil {
		return nil, fmt.Errorf("failed to decode created field %s: %w", label, err)
	}
	return &field, nil
}

// ListGroups returns the groups with the given name
func (c *RapidProClient) ListGroups(ctx context.Context, name string) ([]Group, error) {
	u := c.baseURL + groupsPath
	if name != "" {
		u += "?" + url.Values{"name": {name}}.Encode()
	}
	groups, err := listAll[Group](ctx, c.client, u)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact groups: %w", err)
	}
	return groups, nil
}

// CreateGroup creates a group with the given name
func (c *RapidProClient) CreateGroup(ctx context.Context, name string) (*Group, error) {
	body, err := c.client.PostJSON(ctx, c.baseURL+groupsPath, map[string]string{"name": name})
	if err != nil {
		return nil, fmt.Errorf("failed to create contact group %s: %w", name, err)
	}
	var group Group
	if err := json.Unmarshal(body, &group); err != nil {
		return nil, fmt.Errorf("failed to decode created group %s: %w", name, err)
	}
	return &group, nil
}

// GetContact returns the contact with the given URN
func (c *RapidProClient) GetContact(ctx context.Context, urn string) (*Contact, error) {
	body, err := c.client.Get(ctx, c.contactURL(urn))
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	var p page[Contact]
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode contact: %w", err)
	}
	if len(p.Results) == 0 {
		return nil, ErrContactNotFound
	}
	return &p.Results[0], nil
}

// UpdateContact applies update to the contact with the given URN
func (c *RapidProClient) UpdateContact(ctx context.Context, urn string, update ContactUpdate) error {
	if _, err := c.client.PostJSON(ctx, c.contactURL(urn), update); err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

func (c *RapidProClient) contactURL(urn string) string {
	return c.baseURL + contactsPath + "?" + url.Values{"urn": {urn}}.Encode()
}

// listAll follows the next cursor of a list endpoint until it is exhausted
func listAll[T any](ctx context.Context, client httpclient.Client, firstURL string) ([]T, error) {
	var all []T
	next := firstURL
	for pages := 0; next != ""; pages++ {
		if pages >= maxPages {
			return nil, fmt.Errorf("gave up after %d pages of %s", maxPages, firstURL)
		}

		body, err := client.Get(ctx, next)
		if err != nil {
			return nil, err
		}
		var p page[T]
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("failed to decode page: %w", err)
		}
		all = append(all, p.Results...)

		next = ""
		if p.Next != nil {
			next = *p.Next
		}
		logger.Debugf("Fetched %d results from %s", len(p.Results), firstURL)
	}
	return all, nil
}
