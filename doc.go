// Package diamond implements an SDK client for a clustered,
// multi-unit remote configuration service.
//
// Clients use the SDK to read and write named configuration values and
// to subscribe to changes, without having to manage server discovery,
// request signing or long-polling themselves.
//
// # Connecting
//
// Build a Config with the service endpoint, namespace and access
// credentials, then pass it to New:
//
//	cfg, err := diamond.NewConfig(
//		"config.example.internal:8080",
//		"prod",
//		accessKey,
//		secretKey,
//		diamond.WithAppName("orders"),
//	)
//	if err != nil {
//		return err
//	}
//
//	client, err := diamond.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// This does not block on the network: server discovery and host
// selection happen lazily the first time a request is made.
//
// # Reading and writing
//
// Configs are identified by a (dataId, group, tenant) key:
//
//	key := model.ConfigKey{DataId: "db.yaml", Group: "DEFAULT_GROUP", Tenant: "prod"}
//	content, err := client.GetConfig(ctx, key)
//
// A nil content with a nil error means the config does not exist. On a
// transport failure GetConfig falls back to the last snapshot saved to
// disk, and only returns an error if no snapshot is available either.
//
//	err := client.PublishSingle(ctx, key, "new content")
//
// # Subscriptions
//
// Subscribe registers a listener that is called, asynchronously, every
// time a config's content changes:
//
//	unsubscribe, err := client.Subscribe("db.yaml", "DEFAULT_GROUP", func(content string) {
//		reload(content)
//	})
//	defer unsubscribe()
//
// The first subscriber for a (dataId, group) pair triggers an initial
// fetch and starts a background long-polling loop for that unit; later
// subscribers for the same pair are immediately handed the last known
// content and share the existing loop. The loop stops once the last
// listener unsubscribes.
//
// # Units
//
// A deployment may span multiple units, each with its own server list
// and its own copy of every config. Calls default to the caller's own
// unit, discovered once per process, but any call can target another
// unit explicitly:
//
//	content, err := client.GetConfig(ctx, key, diamond.WithUnit("unit-2"))
//
// PublishToAllUnit and RemoveToAllUnit fan a write out to every unit
// known to discovery and fail unless every unit accepts it; units that
// did accept the write keep it regardless of the overall result.
//
// # Errors
//
// Failures from any background component (server discovery, the
// snapshot store, a long-polling loop) are reported on the client's
// Events channel rather than only surfacing the next time a caller
// happens to make a blocking call:
//
//	for err := range client.Events() {
//		log.Printf("diamond: %v", err)
//	}
package diamond
