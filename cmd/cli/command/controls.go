package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UrbsKali/CoupeDeRobotique-OFF/internal/command"
)

var pidCmd = &cobra.Command{
	Use:   "pid <kp> <ki> <kd>",
	Short: "Set the base PID gains",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseFloats(args, "kp", "ki", "kd")
		if err != nil {
			return err
		}
		return send(cmd, command.SetPid{Kp: v[0], Ki: v[1], Kd: v[2]})
	},
}

var gripperCmd = &cobra.Command{
	Use:   "gripper",
	Short: "Gripper related commands",
}

var gripperOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the gripper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, command.SetEndEffector{State: command.GripperOpen})
	},
}

var gripperCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Close the gripper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return send(cmd, command.SetEndEffector{State: command.GripperClosed})
	},
}

var zoneCmd = &cobra.Command{
	Use:   "zone",
	Short: "Select the starting zone",
	Long: `Select the starting zone of a team. Zones are numbered 0 to 2 per team;
blue zone i is sent as i and yellow zone i as i+3.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		teamName, _ := cmd.Flags().GetString("team")
		zone, _ := cmd.Flags().GetInt("zone")

		team, err := command.ParseTeam(teamName)
		if err != nil {
			return err
		}
		idx, err := command.ZoneIndex(team, zone)
		if err != nil {
			return fmt.Errorf("--zone must be between 0 and %d", command.ZonesPerTeam-1)
		}
		return send(cmd, command.SelectZone{Index: idx})
	},
}

func init() {
	gripperCmd.AddCommand(gripperOpenCmd, gripperCloseCmd)

	zoneCmd.Flags().StringP("team", "t", "", "team color, blue or yellow (required)")
	zoneCmd.Flags().IntP("zone", "z", 0, "zone number within the team (0-2)")
	zoneCmd.MarkFlagRequired("team")

	rootCmd.AddCommand(pidCmd, gripperCmd, zoneCmd)
}
