package util

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/crypt"
	"github.com/ValentinKolb/ghostmesh/lib/identity"
	"github.com/ValentinKolb/ghostmesh/lib/store"
	"github.com/ValentinKolb/ghostmesh/lib/vault"
	"github.com/ValentinKolb/ghostmesh/lib/wqueue"
	"github.com/ValentinKolb/ghostmesh/rpc/client"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/ValentinKolb/ghostmesh/rpc/serializer"
	"github.com/ValentinKolb/ghostmesh/rpc/transport"
	httpTransport "github.com/ValentinKolb/ghostmesh/rpc/transport/http"
	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Logger = logger.GetLogger("cmd")

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// ShutdownTimeout bounds the graceful shutdown of the services
	ShutdownTimeout = 5 * time.Second
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// InitConfig loads the env files and initializes viper. Every flag can be set as
// GHOSTMESH_<FLAG> (e.g. GHOSTMESH_TRANSPORT_ENDPOINTS). The secrets and the relay
// port also accept the names used by existing deployments.
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("ghostmesh")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	_ = viper.BindEnv("private-key", "GHOSTMESH_PRIVATE_KEY", "ARKIV_PRIVATE_KEY")
	_ = viper.BindEnv("encryption-key", "GHOSTMESH_ENCRYPTION_KEY", "MESSAGE_ENCRYPTION_KEY")
	_ = viper.BindEnv("port", "GHOSTMESH_PORT", "PORT")
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// InitLogging sets the level of all package loggers
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"))
}

// SetupRPCClientFlags adds the node connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "http://localhost:8080", WrapString("The address of the ghostmesh node. Multiple endpoints can be specified as a comma-separated list and are used round robin"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a request"))

	key = "shard"
	cmd.PersistentFlags().Int(key, 1, WrapString("ID of the entity store shard to connect to"))

	key = "log-level"
	cmd.PersistentFlags().String(key, "info", WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// SetupSecretFlags adds the identity and encryption key flags to a command
func SetupSecretFlags(cmd *cobra.Command) {
	key := "private-key"
	cmd.PersistentFlags().String(key, "", WrapString("Hex seed of the signing identity (also ARKIV_PRIVATE_KEY). Without it the client is read only"))

	key = "encryption-key"
	cmd.PersistentFlags().String(key, "", WrapString("Base64 AES-256 key (also MESSAGE_ENCRYPTION_KEY). Without it the key is read from or generated into the key file"))

	key = "key-file"
	cmd.PersistentFlags().String(key, ".ghostmesh/encryption.key", WrapString("Where the encryption key is persisted if none is configured"))
}

// SetupVaultFlags adds the entity defaults and write queue flags to a command
func SetupVaultFlags(cmd *cobra.Command) {
	key := "default-expiry"
	cmd.PersistentFlags().Duration(key, vault.DefaultExpiry, WrapString("Lifetime of created entities"))

	key = "default-extend"
	cmd.PersistentFlags().Duration(key, vault.DefaultExtend, WrapString("Lifetime added by extend if none is given"))

	key = "block-time"
	cmd.PersistentFlags().Duration(key, store.DefaultBlockTime, WrapString("Duration of one block of the node, used to convert lifetimes to blocks"))

	key = "min-delay"
	cmd.PersistentFlags().Duration(key, wqueue.DefaultMinDelay, WrapString("Minimum pause between two mutations of the write queue, negative disables pacing"))

	key = "max-retries"
	cmd.PersistentFlags().Int(key, wqueue.DefaultMaxRetries, WrapString("Retries of a mutation that failed with a transient (nonce or sequence) error"))

	key = "retry-backoff"
	cmd.PersistentFlags().Duration(key, wqueue.DefaultRetryBackoff, WrapString("Backoff before a retry, multiplied by the attempt number"))
}

// GetVaultOptions reads the vault flags, queue metrics go to set
func GetVaultOptions(set *metrics.Set) vault.Options {
	return vault.Options{
		DefaultExpiry: viper.GetDuration("default-expiry"),
		DefaultExtend: viper.GetDuration("default-extend"),
		BlockTime:     viper.GetDuration("block-time"),
		Queue: wqueue.Options{
			MinDelay:     viper.GetDuration("min-delay"),
			MaxRetries:   viper.GetInt("max-retries"),
			RetryBackoff: viper.GetDuration("retry-backoff"),
			Metrics:      set,
		},
	}
}

// NewVaultClient connects to the node and builds the encrypted entity client.
// The returned close function drains the write queue and closes the connection.
func NewVaultClient(set *metrics.Set) (*vault.Client, func(context.Context) error, error) {
	c, err := LoadCipher()
	if err != nil {
		return nil, nil, err
	}
	id, err := LoadIdentity()
	if err != nil {
		return nil, nil, err
	}
	st, err := NewEntityStore()
	if err != nil {
		return nil, nil, err
	}

	cl := vault.New(st, c, id, GetVaultOptions(set))
	return cl, func(ctx context.Context) error {
		return errors.Join(cl.Close(ctx), st.Close())
	}, nil
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() *common.ClientConfig {
	var endpoints []string
	for _, e := range strings.Split(viper.GetString("transport-endpoints"), ",") {
		if e = strings.TrimSpace(e); e != "" {
			endpoints = append(endpoints, e)
		}
	}
	return &common.ClientConfig{
		Endpoints:     endpoints,
		TimeoutSecond: viper.GetInt("timeout"),
		RetryCount:    viper.GetInt("transport-retries"),
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// GetSerializer creates the serializer selected by the serializer flag
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.ByName(viper.GetString("serializer"))
}

// GetTransport creates the client transport selected by the transport flag
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return httpTransport.NewHttpClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport selected by the transport flag
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return httpTransport.NewHttpServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// NewEntityStore connects to the configured node
func NewEntityStore() (*client.RPCEntityStore, error) {
	s, err := GetSerializer()
	if err != nil {
		return nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}
	return client.NewRPCEntityStore(GetShardID(), *GetClientConfig(), t, s)
}

// LoadCipher returns the process cipher from the encryption-key or key-file settings
func LoadCipher() (*crypt.Cipher, error) {
	c, _, err := crypt.Load(viper.GetString("encryption-key"), viper.GetString("key-file"))
	return c, err
}

// LoadIdentity returns the signing identity, or nil if no private key is configured
func LoadIdentity() (*identity.Identity, error) {
	seed := strings.TrimSpace(viper.GetString("private-key"))
	if seed == "" {
		return nil, nil
	}
	id, err := identity.FromHex(seed)
	if err != nil {
		return nil, store.Errorf(store.RetCConfiguration, "invalid private key: %s", err)
	}
	return id, nil
}

// HostPort joins the host and port flags into a listen address
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// --------------------------------------------------------------------------
// Service lifecycle
// --------------------------------------------------------------------------

// SignalContext returns a context that is cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Serve runs handler on addr until ctx is done, then shuts the server down within
// ShutdownTimeout. The onShutdown functions run afterwards with the same deadline,
// e.g. to drain queues or close listeners.
func Serve(ctx context.Context, addr string, handler http.Handler, onShutdown ...func(context.Context) error) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		Logger.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	Logger.Infof("shutting down (forced after %s)", ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err, srv.Close())
	}
	for _, f := range onShutdown {
		errs = append(errs, f(shutdownCtx))
	}
	return errors.Join(errs...)
}
