package contacts_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagement-analysis/advert-sync/internal/contacts"
	"github.com/engagement-analysis/advert-sync/internal/httpclient"
)

func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func newClient(server *httptest.Server) *contacts.RapidProClient {
	return contacts.NewRapidProClient(server.URL+"/", httpclient.NewDefaultClient(5*time.Second,
		httpclient.WithHeader("Authorization", "Token test-token"),
		httpclient.WithInitialInterval(time.Millisecond),
	))
}

func TestListFieldsFollowsCursor(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	server = newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/fields.json", r.URL.Path)
		assert.Equal(t, "Token test-token", r.Header.Get("Authorization"))
		if r.URL.Query().Get("cursor") == "" {
			_, _ = fmt.Fprintf(w, `{"next": "%s/api/v2/fields.json?cursor=2", "results": [{"key": "age", "label": "Age", "value_type": "numeric"}]}`, server.URL)
			return
		}
		_, _ = w.Write([]byte(`{"next": null, "results": [{"key": "weekly_advert", "label": "weekly advert", "value_type": "text"}]}`))
	}))
	defer server.Close()

	fields, err := newClient(server).ListFields(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []contacts.Field{
		{Key: "age", Label: "Age", ValueType: "numeric"},
		{Key: "weekly_advert", Label: "weekly advert", ValueType: "text"},
	}, fields)
}

func TestCreateField(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"label": "consent withdrawn", "value_type": "text"}, body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"key": "consent_withdrawn", "label": "consent withdrawn", "value_type": "text"}`))
	}))
	defer server.Close()

	field, err := newClient(server).CreateField(context.Background(), "consent withdrawn")
	require.NoError(t, err)
	assert.Equal(t, "consent_withdrawn", field.Key)
}

func TestGroups(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/groups.json", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "weekly advert", r.URL.Query().Get("name"))
			_, _ = w.Write([]byte(`{"next": null, "results": []}`))
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"uuid": "g-1", "name": "weekly advert"}`))
		}
	}))
	defer server.Close()

	client := newClient(server)
	groups, err := client.ListGroups(context.Background(), "weekly advert")
	require.NoError(t, err)
	assert.Empty(t, groups)

	group, err := client.CreateGroup(context.Background(), "weekly advert")
	require.NoError(t, err)
	assert.Equal(t, &contacts.Group{UUID: "g-1", Name: "weekly advert"}, group)
}

func TestGetAndUpdateContact(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/contacts.json", r.URL.Path)
		urn := r.URL.Query().Get("urn")
		switch {
		case r.Method == http.MethodGet && urn == "tel:+254700000001":
			_, _ = w.Write([]byte(`{"next": null, "results": [{"uuid": "c-1", "urns": ["tel:+254700000001"],
				"groups": [{"uuid": "g-1", "name": "listeners"}], "fields": {"age": "24", "gender": null}}]}`))
		case r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"next": null, "results": []}`))
		case r.Method == http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"fields": {"weekly_advert": "yes"}}`, string(body))
			_, _ = w.Write([]byte(`{"uuid": "c-1"}`))
		}
	}))
	defer server.Close()

	client := newClient(server)
	contact, err := client.GetContact(context.Background(), "tel:+254700000001")
	require.NoError(t, err)
	assert.Equal(t, "c-1", contact.UUID)
	assert.True(t, contact.HasGroup("g-1"))
	assert.Equal(t, []string{"g-1"}, contact.GroupUUIDs())
	require.NotNil(t, contact.Fields["age"])
	assert.Equal(t, "24", *contact.Fields["age"])
	assert.Nil(t, contact.Fields["gender"])

	_, err = client.GetContact(context.Background(), "tel:+254700000002")
	assert.ErrorIs(t, err, contacts.ErrContactNotFound)

	err = client.UpdateContact(context.Background(), "tel:+254700000001", contacts.ContactUpdate{
		Fields: map[string]string{"weekly_advert": "yes"},
	})
	require.NoError(t, err)
}

func TestUpdateContactSurfacesHTTPError(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"urn": ["invalid"]}`, http.StatusBadRequest)
	}))
	defer server.Close()

	err := newClient(server).UpdateContact(context.Background(), "bogus", contacts.ContactUpdate{
		Fields: map[string]string{"x": "yes"},
	})
	require.Error(t, err)

	var httpErr *httpclient.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestFindFieldByLabel(t *testing.T) {
	t.Parallel()

	fields := []contacts.Field{{Key: "a", Label: "A"}, {Key: "b", Label: "B"}}
	assert.Equal(t, "b", contacts.FindFieldByLabel(fields, "B").Key)
	assert.Nil(t, contacts.FindFieldByLabel(fields, "C"))
}
