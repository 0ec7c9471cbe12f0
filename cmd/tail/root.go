package tail

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/ghostmesh/cmd/util"
	"github.com/ValentinKolb/ghostmesh/lib/hub"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/net/websocket"
)

var TailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the entity events broadcast by a relay",
	Long:  `Connect to the websocket of a relay and print every frame until interrupted.`,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return util.BindCommandFlags(cmd)
	},
	RunE: run,
}

var eventColors = map[string]color.Attribute{
	"connected":       color.FgCyan,
	"pong":            color.FgCyan,
	"entity:created":  color.FgGreen,
	"entity:updated":  color.FgYellow,
	"entity:extended": color.FgBlue,
	"entity:deleted":  color.FgMagenta,
	"error":           color.FgRed,
}

func init() {
	cobra.OnInitialize(util.InitConfig)

	key := "relay"
	TailCmd.Flags().String(key, "ws://localhost:3001/ws", util.WrapString("Websocket URL of the relay"))

	key = "ping"
	TailCmd.Flags().Duration(key, 30*time.Second, util.WrapString("Interval of keepalive pings, 0 disables them"))
}

func run(cmd *cobra.Command, _ []string) error {
	url := viper.GetString("relay")
	origin := strings.Replace(strings.Replace(url, "wss://", "https://", 1), "ws://", "http://", 1)

	conn, err := websocket.Dial(url, "", origin)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", url, err)
	}
	defer conn.Close()

	ctx, stop := util.SignalContext()
	defer stop()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	if interval := viper.GetDuration("ping"); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := websocket.JSON.Send(conn, hub.Frame{Event: "ping"}); err != nil {
						return
					}
				}
			}
		}()
	}

	out := cmd.OutOrStdout()
	for {
		var f hub.Frame
		if err := websocket.JSON.Receive(conn, &f); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection closed: %w", err)
		}
		fmt.Fprintln(out, format(f))
	}
}

// format renders a frame as "<event> <data as json>"
func format(f hub.Frame) string {
	name := f.Event
	if attr, ok := eventColors[f.Event]; ok {
		name = color.New(attr, color.Bold).Sprint(f.Event)
	}
	if f.Data == nil {
		return name
	}
	data, err := json.Marshal(f.Data)
	if err != nil {
		return fmt.Sprintf("%s %v", name, f.Data)
	}
	return name + " " + string(data)
}
