// Package model holds the wire-protocol constants, key derivation rules
// and error taxonomy shared by every layer of the client (snapshot,
// server list manager, unit client and facade). It sits at the bottom of
// the import graph and imports none of those layers.
package model

import "path"

const (
	// WordSep separates fields within one probe-request entry.
	WordSep = ""
	// LineSep separates entries within a probe-request body.
	LineSep = ""

	// ClientVersion is advertised on every signed request.
	ClientVersion = "diamond-go-client/1.0.0"

	// DefaultTenant is substituted into the snapshot key when a
	// ConfigKey carries no tenant.
	DefaultTenant = "default_tenant"
)

// ConfigKey is the logical identity of one config: dataId/group/tenant.
type ConfigKey struct {
	DataId string
	Group  string
	Tenant string
}

// SnapshotKey returns the on-disk snapshot path for this config within
// the given unit, per the layout: config/<unit>/<tenant>/<group>/<dataId>.
func (k ConfigKey) SnapshotKey(unit string) string {
	tenant := k.Tenant
	if tenant == "" {
		tenant = DefaultTenant
	}
	return path.Join("config", unit, tenant, k.Group, k.DataId)
}

// SubscriptionKey returns the in-memory key identifying this config's
// subscription within a unit: <dataId>@<group>@<unit>.
func (k ConfigKey) SubscriptionKey(unit string) string {
	return k.DataId + "@" + k.Group + "@" + unit
}

// ServerListSnapshotKey returns the snapshot key under which a unit's
// discovered host list is cached: server_list/<unit>.
func ServerListSnapshotKey(unit string) string {
	return path.Join("server_list", unit)
}
