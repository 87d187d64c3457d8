package command

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	c "github.com/UrbsKali/CoupeDeRobotique-OFF/cmd/cli/command/client"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/telemetry"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the live odometry of the robot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		route, _ := cmd.Flags().GetString("telemetry-route")
		if !cmd.Flags().Changed("telemetry-route") && loadedConfig != nil {
			route = loadedConfig.TelemetryRoute
		}

		var sink telemetry.Sink
		if redisURL, _ := cmd.Flags().GetString("redis"); redisURL != "" {
			ttl := 30 * time.Second
			if loadedConfig != nil {
				ttl = loadedConfig.PoseTTL
			}
			rs, err := telemetry.NewRedisSink(redisURL, ttl)
			if err != nil {
				return err
			}
			defer rs.Close()
			sink = rs
		}

		ctx, cancel := interruptContext(cmd)
		defer cancel()
		return c.WatchOdometry(ctx, clientOptions().Endpoint, route, sink, verboseLogs)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show channel states and the last pose from a running console-server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		apiURL, _ := cmd.Flags().GetString("api")
		if !cmd.Flags().Changed("api") && loadedConfig != nil {
			apiURL = fmt.Sprintf("http://localhost:%d", loadedConfig.HTTPPort)
		}
		hc := c.NewHTTPClient(apiURL)

		channels, err := hc.Channels()
		if err != nil {
			return err
		}
		fmt.Println("📡 Channels")
		for _, ch := range channels.Channels {
			switch ch.State {
			case "open":
				color.Green("  %-10s %s", ch.Route, ch.State)
			case "closed_error":
				color.Red("  %-10s %s  %s", ch.Route, ch.State, ch.Error)
			default:
				color.Yellow("  %-10s %s", ch.Route, ch.State)
			}
		}

		pose, err := hc.Odometry()
		if errors.Is(err, c.ErrNoOdometry) {
			color.HiBlack("📍 no odometry yet")
			return nil
		}
		if err != nil {
			return err
		}
		color.Cyan("📍 x=%.1f y=%.1f θ=%.2f° (%dms ago)", pose.X, pose.Y, pose.ThetaDeg, pose.AgeMillis)
		return nil
	},
}

func init() {
	watchCmd.Flags().String("telemetry-route", "odometer", "route the robot publishes odometry on")
	watchCmd.Flags().String("redis", "", "also cache poses in Redis (host:port or redis:// URL)")
	statusCmd.Flags().String("api", "http://localhost:8090", "console-server URL")

	rootCmd.AddCommand(watchCmd, statusCmd)
}
