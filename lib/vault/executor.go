package vault

import (
	"context"

	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/wqueue"
)

// signingExecutor runs queued operations against the store. Every attempt signs a
// fresh transaction for the nonce the store currently expects.
type signingExecutor struct {
	store store.IEntityStore
	id    *identity.Identity
}

var opOf = map[wqueue.Kind]store.Op{
	wqueue.KindCreate: store.OpCreate,
	wqueue.KindUpdate: store.OpUpdate,
	wqueue.KindDelete: store.OpDelete,
	wqueue.KindExtend: store.OpExtend,
}

func (x *signingExecutor) Execute(_ context.Context, op wqueue.Operation) (wqueue.Result, error) {
	sop, ok := opOf[op.Kind]
	if !ok {
		return wqueue.Result{}, store.Errorf(store.RetCInternalError, "unknown operation kind %s", op.Kind)
	}

	nonce, err := x.store.NonceAt(x.id.Address())
	if err != nil {
		return wqueue.Result{}, err
	}
	digest := store.TxDigest(sop, op.Key, op.Payload, op.Attributes, op.Expiry, nonce)
	tx, err := x.id.Sign(sop, digest, nonce)
	if err != nil {
		return wqueue.Result{}, err
	}

	switch op.Kind {
	case wqueue.KindCreate:
		key, err := x.store.CreateEntity(tx, op.Payload, op.Attributes, op.Expiry)
		return wqueue.Result{Key: key}, err
	case wqueue.KindUpdate:
		key, err := x.store.UpdateEntity(tx, op.Key, op.Payload, op.Attributes, op.Expiry)
		return wqueue.Result{Key: key}, err
	case wqueue.KindDelete:
		key, err := x.store.DeleteEntity(tx, op.Key)
		return wqueue.Result{Key: key}, err
	default:
		expiresAt, err := x.store.ExtendEntity(tx, op.Key, op.Expiry)
		return wqueue.Result{Key: op.Key, ExpiresAt: expiresAt}, err
	}
}
