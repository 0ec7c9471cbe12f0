package server

import (
	"fmt"

	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
)

func NewEntityStoreServerAdapter() IRPCServerAdapter {
	return &entityStoreServerAdapterImpl{}
}

type entityStoreServerAdapterImpl struct{}

func (adapter *entityStoreServerAdapterImpl) Handle(req *common.Message, backend Backend) *common.Message {
	if backend == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// every mutation carries a tx
	switch req.MsgType {
	case common.MsgTCreate, common.MsgTUpdate, common.MsgTDelete, common.MsgTExtend:
		if req.Tx == nil {
			return common.NewErrorResponse(store.NewError(store.RetCValidation, "missing tx").Error())
		}
	}

	switch req.MsgType {
	case common.MsgTCreate:
		key, err := backend.CreateEntity(*req.Tx, req.Value, req.Attrs, req.Num)
		return common.NewCreateResponse(key, err)
	case common.MsgTUpdate:
		key, err := backend.UpdateEntity(*req.Tx, req.Key, req.Value, req.Attrs, req.Num)
		return common.NewUpdateResponse(key, err)
	case common.MsgTDelete:
		key, err := backend.DeleteEntity(*req.Tx, req.Key)
		return common.NewDeleteResponse(key, err)
	case common.MsgTExtend:
		expiresAt, err := backend.ExtendEntity(*req.Tx, req.Key, req.Num)
		return common.NewExtendResponse(expiresAt, err)
	case common.MsgTGet:
		e, err := backend.GetEntity(req.Key)
		return common.NewGetResponse(e, err)
	case common.MsgTQuery:
		entities, err := backend.QueryEntities(store.Query{Equals: req.Attrs})
		return common.NewQueryResponse(entities, err)
	case common.MsgTNonce:
		nonce, err := backend.NonceAt(req.Key)
		return common.NewNumResponse(common.MsgTNonce, nonce, err)
	case common.MsgTBlock:
		block, err := backend.BlockNumber()
		return common.NewNumResponse(common.MsgTBlock, block, err)
	case common.MsgTNewFilter:
		id, err := backend.NewFilter()
		return common.NewFilterResponse(id, err)
	case common.MsgTFilterChanges:
		events, err := backend.FilterChanges(req.Key)
		return common.NewFilterChangesResponse(events, err)
	case common.MsgTUninstallFilter:
		return common.NewUninstallFilterResponse(backend.UninstallFilter(req.Key))
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC EntityStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
