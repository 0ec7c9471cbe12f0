package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Formatting helper
// --------------------------------------------------------------------------

// configWriter renders config structs as aligned sections
type configWriter struct {
	sb strings.Builder
}

func (w *configWriter) section(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (w *configWriter) field(name, value string) {
	w.sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}

func (w *configWriter) String() string {
	return w.sb.String()
}

// secret hides all but the presence of a secret value
func secret(v string) string {
	if v == "" {
		return "(not set)"
	}
	return "(set)"
}

// --------------------------------------------------------------------------
// RPC node configuration struct
// --------------------------------------------------------------------------

// ServerShard is a single entity store hosted by a node
type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Journal is the journal DSN of the shard, empty keeps the shard in memory
	Journal string
}

// NodeConfig holds all configuration parameters of a development node
type NodeConfig struct {
	Shards []ServerShard

	// Store parameters
	BlockTime        time.Duration
	FilterTTL        time.Duration
	VerifySignatures bool

	// HTTP api settings
	Endpoint      string
	TimeoutSecond int64

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *NodeConfig) String() string {
	var w configWriter

	w.section("RPC Server")
	w.field("Endpoint", c.Endpoint)
	w.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	w.section("Entity Store")
	w.field("Block Time", c.BlockTime.String())
	w.field("Filter TTL", c.FilterTTL.String())
	w.field("Verify Signatures", strconv.FormatBool(c.VerifySignatures))

	w.section("Logging")
	w.field("Log Level", c.LogLevel)

	w.section("Shards")
	shards := append([]ServerShard(nil), c.Shards...)
	sort.Slice(shards, func(i, j int) bool { return shards[i].ShardID < shards[j].ShardID })
	for _, shard := range shards {
		journal := shard.Journal
		if journal == "" {
			journal = "memory only"
		}
		w.field(strconv.FormatUint(shard.ShardID, 10), journal)
	}
	return w.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures the connection to a node
type ClientConfig struct {
	Endpoints     []string
	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var w configWriter

	w.section("Client Configuration")
	w.field("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	w.field("Retry Count", strconv.Itoa(c.RetryCount))

	w.section("Endpoints")
	for i, endpoint := range c.Endpoints {
		w.field(strconv.Itoa(i), endpoint)
	}
	return w.String()
}

// --------------------------------------------------------------------------
// Relay configuration struct
// --------------------------------------------------------------------------

// RelayConfig configures the subscription relay and its websocket fan-out
type RelayConfig struct {
	Client  ClientConfig
	ShardID uint64

	// Listen address of the websocket and health endpoints
	Endpoint string

	// Subscription and reconnect timing
	PollInterval  time.Duration
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	StopSettle    time.Duration
	DrainSettle   time.Duration
	StartupSettle time.Duration

	// Fan-out
	OutboxSize int

	LogLevel string
}

// String returns a formatted string representation of the relay configuration
func (c *RelayConfig) String() string {
	var w configWriter

	w.section("Relay")
	w.field("Endpoint", c.Endpoint)
	w.field("Shard", strconv.FormatUint(c.ShardID, 10))
	w.field("Poll Interval", c.PollInterval.String())
	w.field("Listener Outbox", strconv.Itoa(c.OutboxSize))

	w.section("Reconnect")
	w.field("Base Delay", c.BaseDelay.String())
	w.field("Max Delay", c.MaxDelay.String())
	w.field("Stop Settle", c.StopSettle.String())
	w.field("Drain Settle", c.DrainSettle.String())
	w.field("Startup Settle", c.StartupSettle.String())

	w.section("Logging")
	w.field("Log Level", c.LogLevel)

	return w.String() + c.Client.String()
}

// --------------------------------------------------------------------------
// API configuration struct
// --------------------------------------------------------------------------

// APIConfig configures the encrypted entity API
type APIConfig struct {
	Client  ClientConfig
	ShardID uint64

	Endpoint string

	// Secrets, printed only as set/not set
	PrivateKey    string
	EncryptionKey string
	KeyFile       string

	// Entity defaults
	DefaultExpiry time.Duration
	DefaultExtend time.Duration
	BlockTime     time.Duration

	// Write queue
	MinDelay     time.Duration
	MaxRetries   int
	RetryBackoff time.Duration

	// Tracing, disabled when empty
	OTLPEndpoint string

	LogLevel string
}

// String returns a formatted string representation of the API configuration
func (c *APIConfig) String() string {
	var w configWriter

	w.section("API")
	w.field("Endpoint", c.Endpoint)
	w.field("Shard", strconv.FormatUint(c.ShardID, 10))
	w.field("Default Expiry", c.DefaultExpiry.String())
	w.field("Default Extend", c.DefaultExtend.String())
	w.field("Block Time", c.BlockTime.String())

	w.section("Write Queue")
	w.field("Min Delay", c.MinDelay.String())
	w.field("Max Retries", strconv.Itoa(c.MaxRetries))
	w.field("Retry Backoff", c.RetryBackoff.String())

	w.section("Secrets")
	w.field("Private Key", secret(c.PrivateKey))
	w.field("Encryption Key", secret(c.EncryptionKey))
	w.field("Key File", c.KeyFile)

	w.section("Observability")
	w.field("OTLP Endpoint", c.OTLPEndpoint)
	w.field("Log Level", c.LogLevel)

	return w.String() + c.Client.String()
}
