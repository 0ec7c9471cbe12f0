package server

import (
	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
)

// Backend is the store served by a shard: the entity store plus its event filters
type Backend interface {
	store.IEntityStore
	store.IFilterSource
}

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response
	// It takes a Message and a backend as parameters.
	// It returns a Message as a response
	// If an error occurs, it should be set in the response
	Handle(req *common.Message, backend Backend) (resp *common.Message)
}
