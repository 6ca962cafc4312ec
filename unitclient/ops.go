package unitclient

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/diamondconfig/diamond-go/model"
)

// wordSepJoin joins dataIds the way the wire protocol expects for
// batch operations: separated by the WORD_SEP control byte.
func wordSepJoin(dataIds []string) string {
	return strings.Join(dataIds, model.WordSep)
}

// GetConfig fetches one config. It returns (nil, nil) for a 404 "not
// found" — not an error. On transport/protocol failure it falls back to
// the snapshot, reporting the original error only when a cached value
// was found to fall back to; otherwise the error simply propagates to
// the caller instead of also being reported as an event.
func (c *UnitClient) GetConfig(ctx context.Context, key model.ConfigKey) (*string, error) {
	fields := []kv{{"dataId", key.DataId}, {"group", key.Group}, {"tenant", key.Tenant}}
	body, found, err := c.send(ctx, http.MethodGet, "/config.co", fields, key.Tenant, key.Group, false, nil, c.requestTimeout)
	if err != nil {
		if cached := c.snapshot.Get(key.SnapshotKey(c.unit)); cached != nil {
			c.report(err)
			return cached, nil
		}
		return nil, err
	}
	if !found {
		return nil, nil
	}
	content := string(body)
	c.snapshot.Save(key.SnapshotKey(c.unit), content)
	return &content, nil
}

// PublishSingle writes content for key, replacing whatever was there.
func (c *UnitClient) PublishSingle(ctx context.Context, key model.ConfigKey, content string) error {
	fields := []kv{
		{"dataId", key.DataId},
		{"group", key.Group},
		{"content", content},
		{"tenant", key.Tenant},
	}
	_, _, err := c.send(ctx, http.MethodPost, "/basestone.do?method=syncUpdateAll", fields, key.Tenant, key.Group, true, nil, c.requestTimeout)
	return err
}

// Remove deletes a config entirely.
func (c *UnitClient) Remove(ctx context.Context, key model.ConfigKey) error {
	fields := []kv{{"dataId", key.DataId}, {"group", key.Group}, {"tenant", key.Tenant}}
	_, _, err := c.send(ctx, http.MethodPost, "/datum.do?method=deleteAllDatums", fields, key.Tenant, key.Group, false, nil, c.requestTimeout)
	return err
}

// PublishAggr writes one datum of an aggregate config.
func (c *UnitClient) PublishAggr(ctx context.Context, key model.ConfigKey, datumId, content string) error {
	fields := []kv{
		{"dataId", key.DataId},
		{"group", key.Group},
		{"datumId", datumId},
		{"content", content},
		{"appName", c.credentials.AppName},
		{"tenant", key.Tenant},
	}
	_, _, err := c.send(ctx, http.MethodPost, "/datum.do?method=addDatum", fields, key.Tenant, key.Group, false, nil, c.requestTimeout)
	return err
}

// RemoveAggr deletes one datum of an aggregate config.
func (c *UnitClient) RemoveAggr(ctx context.Context, key model.ConfigKey, datumId string) error {
	fields := []kv{
		{"dataId", key.DataId},
		{"group", key.Group},
		{"datumId", datumId},
		{"tenant", key.Tenant},
	}
	_, _, err := c.send(ctx, http.MethodPost, "/datum.do?method=deleteDatum", fields, key.Tenant, key.Group, false, nil, c.requestTimeout)
	return err
}

// BatchConfigEntry is one row of a batchGetConfig response.
type BatchConfigEntry struct {
	Status  int    `json:"status"`
	DataId  string `json:"dataId"`
	Group   string `json:"group"`
	Content string `json:"content"`
}

// BatchGetConfig fetches several dataIds in one round trip, saving every
// successfully returned entry (status == 1) to the snapshot.
func (c *UnitClient) BatchGetConfig(ctx context.Context, dataIds []string, group, tenant string) ([]BatchConfigEntry, error) {
	fields := []kv{{"dataIds", wordSepJoin(dataIds)}, {"group", group}, {"tenant", tenant}}
	body, _, err := c.send(ctx, http.MethodPost, "/config.co?method=batchGetConfig", fields, tenant, group, false, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}

	var entries []BatchConfigEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &model.DiamondBatchDeserializeError{Body: string(body), Err: err}
	}

	saved := make(map[string]string)
	for _, e := range entries {
		if e.Status == 1 {
			key := model.ConfigKey{DataId: e.DataId, Group: e.Group, Tenant: tenant}
			saved[key.SnapshotKey(c.unit)] = e.Content
		}
	}
	if len(saved) > 0 {
		c.snapshot.BatchSave(saved)
	}
	return entries, nil
}

// BatchQuery performs a batch admin query. The response is returned
// unparsed: its shape is not specified beyond "forward the request".
func (c *UnitClient) BatchQuery(ctx context.Context, dataIds []string, group, tenant string) ([]byte, error) {
	fields := []kv{{"dataIds", wordSepJoin(dataIds)}, {"group", group}, {"tenant", tenant}}
	body, _, err := c.send(ctx, http.MethodPost, "/admin.do?method=batchQuery", fields, tenant, group, false, nil, c.requestTimeout)
	return body, err
}

// ConfigInfo is one row of a listAll page.
type ConfigInfo struct {
	DataId  string `json:"dataId"`
	Group   string `json:"group"`
	Content string `json:"content"`
}

type listAllPage struct {
	TotalCount int          `json:"totalCount"`
	PageItems  []ConfigInfo `json:"pageItems"`
}

func (c *UnitClient) listAllPage(ctx context.Context, pageNo, pageSize int, tenant string) (*listAllPage, error) {
	fields := []kv{
		{"pageNo", strconv.Itoa(pageNo)},
		{"pageSize", strconv.Itoa(pageSize)},
		{"method", "getAllConfigInfoByTenant"},
		{"tenant", tenant},
	}
	body, _, err := c.send(ctx, http.MethodGet, "/basestone.do", fields, tenant, "", false, nil, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	var page listAllPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &model.DiamondBatchDeserializeError{Body: string(body), Err: err}
	}
	return &page, nil
}

// GetAllConfigInfo fetches every config under tenant, issuing a single
// (pageNo=1,pageSize=1) probe to learn totalCount then 200-item pages
// sequentially. Pages are never fetched in parallel.
func (c *UnitClient) GetAllConfigInfo(ctx context.Context, tenant string) ([]ConfigInfo, error) {
	const pageSize = 200

	probe, err := c.listAllPage(ctx, 1, 1, tenant)
	if err != nil {
		return nil, err
	}

	all := make([]ConfigInfo, 0, probe.TotalCount)
	totalPages := (probe.TotalCount + pageSize - 1) / pageSize
	for page := 1; page <= totalPages; page++ {
		result, err := c.listAllPage(ctx, page, pageSize, tenant)
		if err != nil {
			return nil, err
		}
		all = append(all, result.PageItems...)
	}
	return all, nil
}
