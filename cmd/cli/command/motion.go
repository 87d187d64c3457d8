package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	c "github.com/UrbsKali/CoupeDeRobotique-OFF/cmd/cli/command/client"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/wsmux"
)

// clientOptions builds the connection options from the global flags
func clientOptions() c.Options {
	format, _ := command.ParseFormat(wireFormat)
	return c.Options{
		Endpoint: wsmux.Endpoint{
			Scheme: robotScheme,
			Host:   robotHost,
			Port:   robotPort,
			Sender: senderID,
		},
		CommandRoute: cmdRoute,
		Format:       format,
		Timeout:      dialTimeout,
		Verbose:      verboseLogs,
	}
}

// interruptContext ends on Ctrl+C
func interruptContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

func send(cmd *cobra.Command, remote command.Command) error {
	ctx, cancel := interruptContext(cmd)
	defer cancel()
	return c.Send(ctx, clientOptions(), remote)
}

func parseFloats(args []string, names ...string) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: not a number", names[i], a)
		}
		out[i] = v
	}
	return out, nil
}

var moveCmd = &cobra.Command{
	Use:   "move <dx> <dy>",
	Short: "Move the base relative to its current pose",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseFloats(args, "dx", "dy")
		if err != nil {
			return err
		}
		return send(cmd, command.MoveRelative{DX: v[0], DY: v[1]})
	},
}

var jogCmd = &cobra.Command{
	Use:       "jog <up|down|left|right>",
	Short:     "Send the directional pad step for a direction",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "left", "right"},
	RunE: func(cmd *cobra.Command, args []string) error {
		step, err := command.Jog(command.Direction(args[0]))
		if err != nil {
			return err
		}
		return send(cmd, step)
	},
}

var gotoCmd = &cobra.Command{
	Use:   "goto <x> <y>",
	Short: "Drive the base to an absolute point",
	Long: `Drive the base to an absolute point on the table. Motion profile flags
default to the base's own defaults.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseFloats(args, "x", "y")
		if err != nil {
			return err
		}
		backward, _ := cmd.Flags().GetBool("backward")
		flags := cmd.Flags()
		p := command.DefaultMotionProfile()
		p.MaxSpeed, _ = flags.GetFloat64("max-speed")
		p.NextPositionDelay, _ = flags.GetFloat64("next-position-delay")
		p.ActionErrorAuth, _ = flags.GetFloat64("action-error-auth")
		p.TrajPrecision, _ = flags.GetFloat64("traj-precision")
		p.CorrectionTrajectorySpeed, _ = flags.GetFloat64("correction-speed")
		p.AccelerationStartSpeed, _ = flags.GetFloat64("accel-start-speed")
		p.AccelerationDistance, _ = flags.GetFloat64("accel-distance")
		p.DecelerationEndSpeed, _ = flags.GetFloat64("decel-end-speed")
		p.DecelerationDistance, _ = flags.GetFloat64("decel-distance")

		return send(cmd, command.MoveTo{X: v[0], Y: v[1], Forward: !backward, Profile: p})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the base and clear its queued moves",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, command.Stop{})
	},
}

var resetOdoCmd = &cobra.Command{
	Use:   "reset-odo",
	Short: "Reset the base odometry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, command.ResetOdometry{})
	},
}

func init() {
	d := command.DefaultMotionProfile()
	flags := gotoCmd.Flags()
	flags.Bool("backward", false, "drive backward to the target")
	flags.Float64("max-speed", d.MaxSpeed, "maximum speed (0-255)")
	flags.Float64("next-position-delay", d.NextPositionDelay, "delay before the next position (0-65535)")
	flags.Float64("action-error-auth", d.ActionErrorAuth, "allowed action error (0-65535)")
	flags.Float64("traj-precision", d.TrajPrecision, "trajectory precision (0-65535)")
	flags.Float64("correction-speed", d.CorrectionTrajectorySpeed, "correction trajectory speed (0-255)")
	flags.Float64("accel-start-speed", d.AccelerationStartSpeed, "acceleration start speed (0-255)")
	flags.Float64("accel-distance", d.AccelerationDistance, "acceleration distance")
	flags.Float64("decel-end-speed", d.DecelerationEndSpeed, "deceleration end speed (0-255)")
	flags.Float64("decel-distance", d.DecelerationDistance, "deceleration distance")

	rootCmd.AddCommand(moveCmd, jogCmd, gotoCmd, stopCmd, resetOdoCmd)
}
