package state

import (
	"inboxd/internal/providers"
	"inboxd/internal/structures"
)

// NewKVProvider opens the configured KV. The cleanup closes it.
func NewKVProvider(conf *structures.Config, logger providers.Logger) (KV, func(), error) {
	kv, err := OpenKV(conf.State.DSN)
	if err != nil {
		return nil, nil, err
	}
	logger.Infof(providers.TypeApp, "State backend %T opened", kv)
	return kv, func() {
		if err := kv.Close(); err != nil {
			logger.Errorf(providers.TypeApp, "Error while closing state backend: %s", err)
		}
	}, nil
}

func NewStoreProvider(conf *structures.Config, kv KV, logger providers.Logger, metrics providers.MetricsProviderInterface) *Store {
	return NewStore(kv, conf.Inbox.DisplayTimeTTL, logger, metrics)
}
