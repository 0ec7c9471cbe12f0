package relay

import (
	"context"
	"time"

	cmdUtil "github.com/ValentinKolb/ghostmesh/cmd/util"
	"github.com/ValentinKolb/ghostmesh/lib/hub"
	eventRelay "github.com/ValentinKolb/ghostmesh/lib/relay"
	"github.com/ValentinKolb/ghostmesh/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	relayCmdConfig = &common.RelayConfig{}
	RelayCmd       = &cobra.Command{
		Use:   "relay",
		Short: "Relay entity events to websocket listeners",
		Long: `Subscribe to the entity events of a node and broadcast them to websocket clients on /ws.
Expired event filters are replaced automatically with exponential backoff. /health reports
the listener count and whether the subscription is live, /metrics exposes prometheus metrics.
The format of the environment variables is GHOSTMESH_<flag>, the port also accepts PORT.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)
	cmdUtil.SetupRPCClientFlags(RelayCmd)

	def := eventRelay.DefaultOptions()

	key := "port"
	RelayCmd.PersistentFlags().Int(key, 3001, cmdUtil.WrapString("The port of the websocket server (also PORT)"))

	key = "host"
	RelayCmd.PersistentFlags().String(key, "0.0.0.0", cmdUtil.WrapString("The interface the websocket server binds to"))

	key = "poll-interval"
	RelayCmd.PersistentFlags().Duration(key, time.Second, cmdUtil.WrapString("How often the event filter is polled"))

	key = "base-delay"
	RelayCmd.PersistentFlags().Duration(key, def.BaseDelay, cmdUtil.WrapString("Delay before the first reconnect attempt, doubled per consecutive failure"))

	key = "max-delay"
	RelayCmd.PersistentFlags().Duration(key, def.MaxDelay, cmdUtil.WrapString("Upper bound of the reconnect delay"))

	key = "stop-settle"
	RelayCmd.PersistentFlags().Duration(key, def.StopSettle, cmdUtil.WrapString("Pause after stopping an expired subscription"))

	key = "drain-settle"
	RelayCmd.PersistentFlags().Duration(key, def.DrainSettle, cmdUtil.WrapString("How long filter errors of the replaced subscription are ignored"))

	key = "startup-settle"
	RelayCmd.PersistentFlags().Duration(key, def.StartupSettle, cmdUtil.WrapString("How long filter errors are logged at debug level after start"))

	key = "outbox"
	RelayCmd.PersistentFlags().Int(key, hub.DefaultOutboxSize, cmdUtil.WrapString("Frames buffered per listener before frames are dropped for it"))
}

// processConfig reads the flags and environment variables into the relay configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	relayCmdConfig.Client = *cmdUtil.GetClientConfig()
	relayCmdConfig.ShardID = cmdUtil.GetShardID()
	relayCmdConfig.Endpoint = cmdUtil.HostPort(viper.GetString("host"), viper.GetInt("port"))
	relayCmdConfig.PollInterval = viper.GetDuration("poll-interval")
	relayCmdConfig.BaseDelay = viper.GetDuration("base-delay")
	relayCmdConfig.MaxDelay = viper.GetDuration("max-delay")
	relayCmdConfig.StopSettle = viper.GetDuration("stop-settle")
	relayCmdConfig.DrainSettle = viper.GetDuration("drain-settle")
	relayCmdConfig.StartupSettle = viper.GetDuration("startup-settle")
	relayCmdConfig.OutboxSize = viper.GetInt("outbox")
	relayCmdConfig.LogLevel = viper.GetString("log-level")
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	cmdUtil.Logger.Infof(relayCmdConfig.String())

	st, err := cmdUtil.NewEntityStore()
	if err != nil {
		return err
	}
	defer st.Close()
	st.PollInterval = relayCmdConfig.PollInterval

	set := metrics.NewSet()
	r := eventRelay.New(st, eventRelay.Options{
		BaseDelay:     relayCmdConfig.BaseDelay,
		MaxDelay:      relayCmdConfig.MaxDelay,
		StopSettle:    relayCmdConfig.StopSettle,
		DrainSettle:   relayCmdConfig.DrainSettle,
		StartupSettle: relayCmdConfig.StartupSettle,
		Metrics:       set,
	})
	common.SetDemoteFilter(r.ShouldDemote)
	defer common.SetDemoteFilter(nil)

	h := hub.New(r.Active, hub.Options{OutboxSize: relayCmdConfig.OutboxSize, Metrics: set})

	ctx, stop := cmdUtil.SignalContext()
	defer stop()

	// a failed first subscribe is retried in the background
	if err := r.Start(); err != nil {
		cmdUtil.Logger.Warningf("relay started without a subscription: %v", err)
	}
	go h.Run(ctx, r.Events())

	return cmdUtil.Serve(ctx, relayCmdConfig.Endpoint, h.Handler(), func(context.Context) error {
		r.Close()
		h.Close()
		return nil
	})
}
