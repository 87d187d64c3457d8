package command

// root.go defines the root command for robocom and the connection flags
// shared by every subcommand.

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/config"
)

var (
	robotHost    string
	robotPort    int
	robotScheme  string
	senderID     string
	cmdRoute     string
	wireFormat   string
	dialTimeout  time.Duration
	verboseLogs  bool
	loadedConfig *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "robocom",
	Short: "robocom - operator console for the robot",
	Long: `robocom sends operator commands to the robot over its websocket routes and
follows the odometry it publishes. It can:
- Jog or drive the base to a point
- Stop the base and reset its odometry
- Tune the PID controller
- Open or close the gripper
- Select the starting zone
- Watch the live pose

Defaults come from the environment (.env is read when present) and can be
overridden with flags. Use "robocom command -h" to see all available commands.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		loadedConfig = cfg
		applyConfigDefaults(cmd, cfg)
		if _, err := command.ParseFormat(wireFormat); err != nil {
			return err
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&robotHost, "host", "rc.local", "robot host")
	flags.IntVar(&robotPort, "port", 8080, "robot websocket port")
	flags.StringVar(&robotScheme, "scheme", "ws", "websocket scheme (ws or wss)")
	flags.StringVar(&senderID, "sender", "WebUI", "sender identity stamped on every message")
	flags.StringVar(&cmdRoute, "route", "cmd", "command route")
	flags.StringVar(&wireFormat, "format", "expression", "command encoding (expression or structured)")
	flags.DurationVar(&dialTimeout, "timeout", 5*time.Second, "how long to wait for the robot")
	flags.BoolVarP(&verboseLogs, "verbose", "v", false, "log channel events to stderr")
}

// applyConfigDefaults fills every flag the user did not set from the environment
func applyConfigDefaults(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if !flags.Changed("host") {
		robotHost = cfg.RobotHost
	}
	if !flags.Changed("port") {
		robotPort = cfg.RobotPort
	}
	if !flags.Changed("scheme") {
		robotScheme = cfg.RobotScheme
	}
	if !flags.Changed("sender") {
		senderID = cfg.SenderID
	}
	if !flags.Changed("route") {
		cmdRoute = cfg.CommandRoute
	}
	if !flags.Changed("format") {
		wireFormat = cfg.WireFormat
	}
}
