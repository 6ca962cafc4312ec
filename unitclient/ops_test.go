package unitclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/diamondconfig/diamond-go/model"
)

func TestGetConfig_SavesToSnapshotOnSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("host: localhost"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	key := model.ConfigKey{DataId: "db.yaml", Group: "DEFAULT_GROUP", Tenant: "prod"}

	content, err := c.GetConfig(context.Background(), key)
	assert.NoError(t, err)
	assert.NotNil(t, content)
	assert.Equal(t, "host: localhost", *content)

	cached := c.snapshot.Get(key.SnapshotKey(c.unit))
	assert.NotNil(t, cached)
	assert.Equal(t, "host: localhost", *cached)
}

func TestGetConfig_404IsNotAnErrorAndDoesNotTouchSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	key := model.ConfigKey{DataId: "db.yaml", Group: "DEFAULT_GROUP", Tenant: "prod"}

	content, err := c.GetConfig(context.Background(), key)
	assert.NoError(t, err)
	assert.Nil(t, content)
	assert.Nil(t, c.snapshot.Get(key.SnapshotKey(c.unit)))
}

func TestGetConfig_FallsBackToSnapshotOnTransportFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/diamond", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Host + "\n"))
	})
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	c.currentHost = server.Listener.Addr().String()
	key := model.ConfigKey{DataId: "db.yaml", Group: "DEFAULT_GROUP", Tenant: "prod"}
	c.snapshot.Save(key.SnapshotKey(c.unit), "cached content")

	content, err := c.GetConfig(context.Background(), key)
	assert.NoError(t, err)
	assert.NotNil(t, content)
	assert.Equal(t, "cached content", *content)
}

func TestGetConfig_PropagatesErrorWhenNoSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/diamond", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Host + "\n"))
	})
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	c.currentHost = server.Listener.Addr().String()
	key := model.ConfigKey{DataId: "db.yaml", Group: "DEFAULT_GROUP", Tenant: "prod"}

	content, err := c.GetConfig(context.Background(), key)
	assert.Error(t, err)
	assert.Nil(t, content)
}

func TestBatchGetConfig_SavesOnlySuccessfulEntries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[
			{"status":1,"dataId":"a.yaml","group":"DEFAULT_GROUP","content":"a"},
			{"status":3,"dataId":"b.yaml","group":"DEFAULT_GROUP","content":""}
		]`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	entries, err := c.BatchGetConfig(context.Background(), []string{"a.yaml", "b.yaml"}, "DEFAULT_GROUP", "prod")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)

	keyA := model.ConfigKey{DataId: "a.yaml", Group: "DEFAULT_GROUP", Tenant: "prod"}
	keyB := model.ConfigKey{DataId: "b.yaml", Group: "DEFAULT_GROUP", Tenant: "prod"}
	assert.NotNil(t, c.snapshot.Get(keyA.SnapshotKey(c.unit)))
	assert.Nil(t, c.snapshot.Get(keyB.SnapshotKey(c.unit)))
}

func TestBatchGetConfig_MalformedBodyReturnsDeserializeError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/config.co", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not json"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	_, err := c.BatchGetConfig(context.Background(), []string{"a.yaml"}, "DEFAULT_GROUP", "prod")
	assert.Error(t, err)
	var deserErr *model.DiamondBatchDeserializeError
	assert.ErrorAs(t, err, &deserErr)
}

func TestGetAllConfigInfo_PaginatesUsingProbedTotalCount(t *testing.T) {
	var pagesRequested []string
	mux := http.NewServeMux()
	mux.HandleFunc("/diamond-server/basestone.do", func(w http.ResponseWriter, r *http.Request) {
		pagesRequested = append(pagesRequested, r.URL.Query().Get("pageNo")+"/"+r.URL.Query().Get("pageSize"))
		if r.URL.Query().Get("pageSize") == "1" {
			w.Write([]byte(`{"totalCount":3,"pageItems":[{"dataId":"a.yaml","group":"g","content":"x"}]}`))
			return
		}
		w.Write([]byte(`{"totalCount":3,"pageItems":[
			{"dataId":"a.yaml","group":"g","content":"x"},
			{"dataId":"b.yaml","group":"g","content":"y"},
			{"dataId":"c.yaml","group":"g","content":"z"}
		]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := newTestUnitClient(t, server)
	all, err := c.GetAllConfigInfo(context.Background(), "prod")
	assert.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, []string{"1/1", "1/200"}, pagesRequested)
}
