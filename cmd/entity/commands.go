package entity

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ValentinKolb/ghostmesh/lib/vault"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	createCmd = &cobra.Command{
		Use:   "create [type] [data]",
		Short: "Encrypts data and stores it as a new entity",
		Long:  "Encrypts data and stores it as a new entity. Data that parses as JSON is stored as such, anything else as a string.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := vault.Record{
				Type: args[0],
				Data: parseData(args[1]),
			}
			rec.From, _ = cmd.Flags().GetString("from")
			rec.UUID, _ = cmd.Flags().GetString("uuid")
			rec.Timestamp, _ = cmd.Flags().GetString("timestamp")

			key, err := client.Create(cmd.Context(), rec)
			return printResult(vault.CreateResult(key, err))
		},
	}
	sensorCmd = &cobra.Command{
		Use:   "sensor [temperature] [humidity]",
		Short: "Stores an encrypted sensor reading",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := vault.SensorReading{
				Temperature: args[0],
				Humidity:    args[1],
				Timestamp:   time.Now().UTC().Format(time.RFC3339),
			}
			r.Type, _ = cmd.Flags().GetString("type")
			r.Pin, _ = cmd.Flags().GetInt("pin")
			r.SensorType, _ = cmd.Flags().GetString("sensor-type")
			from, _ := cmd.Flags().GetString("from")
			msgUUID, _ := cmd.Flags().GetString("uuid")

			key, err := client.CreateSensor(cmd.Context(), r, from, msgUUID)
			return printResult(vault.CreateResult(key, err))
		},
	}
	readCmd = &cobra.Command{
		Use:   "read [type]",
		Short: "Reads and decrypts all entities, optionally of one type",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeFilter := ""
			if len(args) == 1 {
				typeFilter = args[0]
			}
			entities, err := client.Read(cmd.Context(), typeFilter)
			return printResult(vault.ReadResult(entities, err))
		},
	}
	updateCmd = &cobra.Command{
		Use:   "update [key] [type] [data]",
		Short: "Replaces the content of an entity and resets its expiry",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			expiresIn, _ := cmd.Flags().GetDuration("expires-in")
			rec := vault.Record{Type: args[1], Data: parseData(args[2])}

			key, err := client.Update(cmd.Context(), args[0], rec, expiresIn)
			return printResult(vault.UpdateResult(key, err))
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Deletes an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := client.Delete(cmd.Context(), args[0])
			return printResult(vault.DeleteResult(key, err))
		},
	}
	extendCmd = &cobra.Command{
		Use:   "extend [key]",
		Short: "Extends the lifetime of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, _ := cmd.Flags().GetDuration("by")
			exp, err := client.Extend(cmd.Context(), args[0], by)
			return printResult(vault.ExtendResult(args[0], exp, err))
		},
	}
)

func init() {
	createCmd.Flags().String("from", "", "Sender of the record")
	createCmd.Flags().String("uuid", "", "Message id of the record")
	createCmd.Flags().String("timestamp", "", "Timestamp of the record (RFC3339), defaults to now")

	sensorCmd.Flags().String("type", "sensor", "Record type of the reading")
	sensorCmd.Flags().Int("pin", 0, "GPIO pin of the sensor")
	sensorCmd.Flags().String("sensor-type", "DHT22", "Sensor model")
	sensorCmd.Flags().String("from", "", "Sender of the reading")
	sensorCmd.Flags().String("uuid", "", "Message id of the reading")
	EntityCommands.AddCommand(sensorCmd)

	updateCmd.Flags().Duration("expires-in", 0, "New lifetime of the entity, defaults to the default expiry")
	extendCmd.Flags().Duration("by", 0, "Lifetime to add, defaults to the default extend")
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseData keeps JSON arguments structured
func parseData(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err == nil {
		return v
	}
	return arg
}

// printResult prints the result envelope as JSON and turns a failure into the exit code
func printResult(res vault.Result) error {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !res.Success {
		fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprint(res.ErrorKind+": "+res.Error))
		return fmt.Errorf("operation failed")
	}
	if res.NewExpirationBlock > 0 {
		fmt.Fprintln(os.Stderr, color.New(color.FgGreen).Sprint("expires at block "+strconv.FormatUint(res.NewExpirationBlock, 10)))
	}
	return nil
}
