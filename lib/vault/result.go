package vault

import "github.com/ValentinKolb/ghostmesh/lib/store"

// Result is the JSON shape returned to API callers. Nothing crosses this boundary
// as a Go error.
type Result struct {
	Success            bool         `json:"success"`
	EntityKey          string       `json:"entityKey,omitempty"`
	Entities           []ReadEntity `json:"entities"`
	NewExpirationBlock uint64       `json:"newExpirationBlock,omitempty"`
	Error              string       `json:"error,omitempty"`
	ErrorKind          string       `json:"errorKind,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error(), ErrorKind: store.CodeOf(err).String()}
}

// CreateResult converts the return values of Create and CreateSensor
func CreateResult(key string, err error) Result {
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, EntityKey: key}
}

// UpdateResult converts the return values of Update
func UpdateResult(key string, err error) Result {
	return CreateResult(key, err)
}

// DeleteResult converts the return values of Delete
func DeleteResult(key string, err error) Result {
	return CreateResult(key, err)
}

// ExtendResult converts the return values of Extend
func ExtendResult(key string, newExpiresAt uint64, err error) Result {
	if err != nil {
		return failure(err)
	}
	return Result{Success: true, EntityKey: key, NewExpirationBlock: newExpiresAt}
}

// ReadResult converts the return values of Read
func ReadResult(entities []ReadEntity, err error) Result {
	if err != nil {
		return failure(err)
	}
	if entities == nil {
		entities = []ReadEntity{}
	}
	return Result{Success: true, Entities: entities}
}
