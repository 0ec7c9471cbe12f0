package api

import (
	cmdUtil "github.com/ValentinKolb/ghostmesh/cmd/util"
	entityAPI "github.com/ValentinKolb/ghostmesh/lib/api"
	"github.com/ValentinKolb/ghostmesh/lib/telemetry"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	apiCmdConfig = &common.APIConfig{}
	APICmd       = &cobra.Command{
		Use:   "api",
		Short: "Serve the encrypted entity API",
		Long: `Serve the HTTP API of the encrypted entity client. Record data is encrypted before it
leaves the process, mutations are signed and serialized through the write queue. Without a
private key the API is read only. The format of the environment variables is GHOSTMESH_<flag>,
the secrets also accept ARKIV_PRIVATE_KEY and MESSAGE_ENCRYPTION_KEY.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupRPCClientFlags(APICmd)
	cmdUtil.SetupSecretFlags(APICmd)
	cmdUtil.SetupVaultFlags(APICmd)

	key := "endpoint"
	APICmd.PersistentFlags().String(key, "0.0.0.0:3000", cmdUtil.WrapString("The address on which the API will listen"))

	key = "otlp-endpoint"
	APICmd.PersistentFlags().String(key, "", cmdUtil.WrapString("OTLP/HTTP endpoint for traces (e.g. http://localhost:4318), tracing is disabled when empty"))
}

// processConfig reads the flags and environment variables into the API configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	opts := cmdUtil.GetVaultOptions(nil)
	apiCmdConfig.Client = *cmdUtil.GetClientConfig()
	apiCmdConfig.ShardID = cmdUtil.GetShardID()
	apiCmdConfig.Endpoint = viper.GetString("endpoint")
	apiCmdConfig.PrivateKey = viper.GetString("private-key")
	apiCmdConfig.EncryptionKey = viper.GetString("encryption-key")
	apiCmdConfig.KeyFile = viper.GetString("key-file")
	apiCmdConfig.DefaultExpiry = opts.DefaultExpiry
	apiCmdConfig.DefaultExtend = opts.DefaultExtend
	apiCmdConfig.BlockTime = opts.BlockTime
	apiCmdConfig.MinDelay = opts.Queue.MinDelay
	apiCmdConfig.MaxRetries = opts.Queue.MaxRetries
	apiCmdConfig.RetryBackoff = opts.Queue.RetryBackoff
	apiCmdConfig.OTLPEndpoint = viper.GetString("otlp-endpoint")
	apiCmdConfig.LogLevel = viper.GetString("log-level")
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	cmdUtil.Logger.Infof(apiCmdConfig.String())

	ctx, stop := cmdUtil.SignalContext()
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "ghostmesh-api", apiCmdConfig.OTLPEndpoint)
	if err != nil {
		return err
	}

	set := metrics.NewSet()
	client, closeClient, err := cmdUtil.NewVaultClient(set)
	if err != nil {
		return err
	}

	srv := entityAPI.NewServer(client, entityAPI.Options{Metrics: set})
	return cmdUtil.Serve(ctx, apiCmdConfig.Endpoint, srv, closeClient, shutdownTracing)
}
