package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/ValentinKolb/ghostmesh/lib/store/journal"
	"github.com/ValentinKolb/ghostmesh/lib/store/lstore"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/ValentinKolb/ghostmesh/rpc/serializer"
	"github.com/ValentinKolb/ghostmesh/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a single entity store hosted by the node together with
// the adapter that handles requests for it
type serverShard struct {
	Store   *lstore.LocalStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.NodeConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

// RPCServer hosts entity store shards behind a transport
type RPCServer struct {
	config     common.NodeConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		shard, ok := s.shards.Load(shardId)

		if !ok {
			respMsg = *common.NewErrorResponse(fmt.Sprintf("shard %d not found", shardId))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = *common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = *shard.Adapter.Handle(&msg, shard.Store)
		}

		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// Init creates all shards and registers the transport handler.
// Serve calls it, tests that only need Handler call it themselves.
func (s *RPCServer) Init() error {
	if len(s.config.Shards) == 0 {
		return fmt.Errorf("no shards configured")
	}

	for _, shardConfig := range s.config.Shards {
		if _, exists := s.shards.Load(shardConfig.ShardID); exists {
			return fmt.Errorf("duplicate shard %d", shardConfig.ShardID)
		}

		j, err := journal.Open(shardConfig.Journal)
		if err != nil {
			return fmt.Errorf("shard %d: %w", shardConfig.ShardID, err)
		}

		opts := lstore.DefaultOptions()
		if s.config.BlockTime > 0 {
			opts.BlockTime = s.config.BlockTime
		}
		if s.config.FilterTTL > 0 {
			opts.FilterTTL = s.config.FilterTTL
		}
		if s.config.VerifySignatures {
			opts.Verifier = identity.VerifyTx
		}
		opts.Journal = j

		st, err := lstore.NewLocalStore(opts)
		if err != nil {
			if j != nil {
				_ = j.Close()
			}
			return fmt.Errorf("shard %d: %w", shardConfig.ShardID, err)
		}

		s.shards.Store(shardConfig.ShardID, serverShard{
			Store:   st,
			Adapter: NewEntityStoreServerAdapter(),
		})

		if shardConfig.Journal == "" {
			Logger.Infof("created in-memory entity store for shard %d", shardConfig.ShardID)
		} else {
			Logger.Infof("created entity store for shard %d (journal %s)", shardConfig.ShardID, shardConfig.Journal)
		}
	}

	s.registerTransportHandler()
	Logger.Infof("node setup completed successfully")
	return nil
}

// Handler returns the http handler of an initialized server
func (s *RPCServer) Handler() http.Handler {
	return s.transport.Handler(s.config)
}

// Serve initializes the shards and runs the transport until Shutdown
func (s *RPCServer) Serve() error {
	if err := s.Init(); err != nil {
		return err
	}
	return s.transport.Listen(s.config)
}

// Shutdown stops the transport and closes all shards
func (s *RPCServer) Shutdown(ctx context.Context) error {
	errs := []error{s.transport.Shutdown(ctx)}
	s.shards.Range(func(id uint64, shard serverShard) bool {
		if err := shard.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing shard %d: %w", id, err))
		}
		s.shards.Delete(id)
		return true
	})
	return errors.Join(errs...)
}
