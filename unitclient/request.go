package unitclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/diamondconfig/diamond-go/model"
)

// kv is one ordered form field. A slice, not a map, because the wire
// protocol's field order (and probe's signBody derivation) matters.
type kv struct {
	Key   string
	Value string
}

// signBody implements the three-way rule: tenant+group, group alone, or
// tenant alone.
func signBody(tenant, group string) string {
	switch {
	case tenant != "" && group != "":
		return tenant + "+" + group
	case group != "":
		return group
	default:
		return tenant
	}
}

// sign computes the Spas-Signature header and the timestamp it was
// computed against.
func sign(tenant, group, secretKey string) (signature, timestamp string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(signBody(tenant, group) + "+" + ts))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), ts
}

func buildForm(fields []kv, encode bool) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v := f.Value
		if encode {
			v = url.QueryEscape(v)
		}
		parts = append(parts, f.Key+"="+v)
	}
	return strings.Join(parts, "&")
}

// defaultPort returns the hardcoded fallback port used only when a host
// returned by discovery carries none of its own. The spec's source
// always hardcodes :8080/:443 regardless of what discovery returned;
// this implementation treats a discovered port as authoritative and
// only falls back to the hardcoded port when the host has none, per the
// documented divergence from source behavior.
func (c *UnitClient) defaultPort() string {
	if c.ssl {
		return "443"
	}
	return "8080"
}

func (c *UnitClient) buildURL(host, path string) string {
	scheme := "http"
	if c.ssl {
		scheme = "https"
	}
	h := host
	if !strings.Contains(host, ":") {
		h = host + ":" + c.defaultPort()
	}
	return scheme + "://" + h + "/diamond-server" + path
}

// send issues one signed request and classifies the response per the
// spec's contract: 200 returns the body, 404 returns found=false with
// no error, 409 returns DiamondServerConflictError, anything else
// re-selects currentHost and returns DiamondServerResponseError.
func (c *UnitClient) send(
	ctx context.Context,
	method, path string,
	fields []kv,
	tenant, group string,
	encode bool,
	extraHeaders map[string]string,
	timeout time.Duration,
) (body []byte, found bool, err error) {
	host, err := c.ensureHost()
	if err != nil {
		return nil, false, err
	}

	formBody := buildForm(fields, encode)
	fullURL := c.buildURL(host, path)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var req *http.Request
	if method == http.MethodGet {
		if formBody != "" {
			fullURL += "?" + formBody
		}
		req, err = http.NewRequestWithContext(ctx, method, fullURL, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, fullURL, strings.NewReader(formBody))
	}
	if err != nil {
		return nil, false, &model.DiamondServerResponseError{URL: fullURL, Data: formBody, Err: err}
	}

	sig, ts := sign(tenant, group, c.credentials.SecretKey)
	req.Header.Set("Client-Version", model.ClientVersion)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Spas-AccessKey", c.credentials.AccessKey)
	req.Header.Set("timeStamp", ts)
	req.Header.Set("exConfigInfo", "true")
	req.Header.Set("Spas-Signature", sig)
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.reselectHost()
		return nil, false, &model.DiamondServerResponseError{URL: fullURL, Data: formBody, Headers: req.Header, Err: err}
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		c.reselectHost()
		return nil, false, &model.DiamondServerResponseError{URL: fullURL, Data: formBody, Headers: req.Header, Err: readErr}
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return respBody, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	case http.StatusConflict:
		return nil, false, &model.DiamondServerConflictError{URL: fullURL}
	default:
		c.reselectHost()
		return nil, false, &model.DiamondServerResponseError{
			URL:        fullURL,
			StatusCode: resp.StatusCode,
			Data:       string(respBody),
			Headers:    req.Header,
		}
	}
}
