package client

import (
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/ValentinKolb/ghostmesh/rpc/serializer"
	"github.com/ValentinKolb/ghostmesh/rpc/transport"
)

// NewRPCEntityStore creates a new RPC entity store
// The function takes a shard ID, a config, a transport and a serializer as parameters.
// The returned store implements store.IEntityStore and store.IFilterSource.
func NewRPCEntityStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*RPCEntityStore, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &RPCEntityStore{
		rpcClientAdapter: rpcClientAdapter{
			shardId:    shardId,
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
		PollInterval: store.DefaultPollInterval,
	}, nil
}

// RPCEntityStore is an entity store hosted by a remote node
type RPCEntityStore struct {
	rpcClientAdapter

	// PollInterval is the filter poll interval of SubscribeEntityEvents
	PollInterval time.Duration
}

// Close closes the transport
func (i *RPCEntityStore) Close() error {
	return i.transport.Close()
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (i *RPCEntityStore) CreateEntity(tx store.Tx, payload []byte, attrs []store.Attribute, expiresIn uint64) (string, error) {
	resp, err := i.invoke(common.NewCreateRequest(tx, payload, attrs, expiresIn))
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (i *RPCEntityStore) UpdateEntity(tx store.Tx, key string, payload []byte, attrs []store.Attribute, expiresIn uint64) (string, error) {
	resp, err := i.invoke(common.NewUpdateRequest(tx, key, payload, attrs, expiresIn))
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (i *RPCEntityStore) DeleteEntity(tx store.Tx, key string) (string, error) {
	resp, err := i.invoke(common.NewDeleteRequest(tx, key))
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (i *RPCEntityStore) ExtendEntity(tx store.Tx, key string, extendBy uint64) (uint64, error) {
	resp, err := i.invoke(common.NewExtendRequest(tx, key, extendBy))
	if err != nil {
		return 0, err
	}
	return resp.Num, nil
}

func (i *RPCEntityStore) GetEntity(key string) (store.Entity, error) {
	resp, err := i.invoke(common.NewGetRequest(key))
	if err != nil {
		return store.Entity{}, err
	}
	if len(resp.Entities) != 1 {
		return store.Entity{}, store.Errorf(store.RetCStore, "RPC - expected one entity, got %d", len(resp.Entities))
	}
	return resp.Entities[0], nil
}

func (i *RPCEntityStore) QueryEntities(q store.Query) ([]store.Entity, error) {
	resp, err := i.invoke(common.NewQueryRequest(q))
	if err != nil {
		return nil, err
	}
	return resp.Entities, nil
}

func (i *RPCEntityStore) NonceAt(address string) (uint64, error) {
	resp, err := i.invoke(common.NewNonceRequest(address))
	if err != nil {
		return 0, err
	}
	return resp.Num, nil
}

func (i *RPCEntityStore) BlockNumber() (uint64, error) {
	resp, err := i.invoke(common.NewBlockRequest())
	if err != nil {
		return 0, err
	}
	return resp.Num, nil
}

func (i *RPCEntityStore) SubscribeEntityEvents(h store.EventHandlers) (store.StopFunc, error) {
	return store.PollSubscription(i, h, i.PollInterval)
}

// --------------------------------------------------------------------------
// Filter Methods (docu see store.IFilterSource)
// --------------------------------------------------------------------------

func (i *RPCEntityStore) NewFilter() (string, error) {
	resp, err := i.invoke(common.NewFilterRequest())
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (i *RPCEntityStore) FilterChanges(id string) ([]store.Event, error) {
	resp, err := i.invoke(common.NewFilterChangesRequest(id))
	if err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func (i *RPCEntityStore) UninstallFilter(id string) error {
	_, err := i.invoke(common.NewUninstallFilterRequest(id))
	return err
}
