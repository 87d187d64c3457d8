package command

import (
	"fmt"
	"strings"
)

// Team is the side the robot plays for.
type Team int

const (
	TeamBlue Team = iota
	TeamYellow
)

const (
	ZonesPerTeam = 3
	ZoneCount    = 2 * ZonesPerTeam
)

func (t Team) String() string {
	switch t {
	case TeamBlue:
		return "blue"
	case TeamYellow:
		return "yellow"
	}
	return fmt.Sprintf("Team(%d)", int(t))
}

func ParseTeam(s string) (Team, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blue":
		return TeamBlue, nil
	case "yellow":
		return TeamYellow, nil
	}
	return 0, invalid("select_zone", "team", s, "must be blue or yellow")
}

// ZoneIndex maps a team's zone 0..2 onto the wire index: blue i, yellow i+3.
func ZoneIndex(team Team, zone int) (int, error) {
	if zone < 0 || zone >= ZonesPerTeam {
		return 0, invalid("select_zone", "zone", zone, "out of range")
	}
	switch team {
	case TeamBlue:
		return zone, nil
	case TeamYellow:
		return zone + ZonesPerTeam, nil
	}
	return 0, invalid("select_zone", "team", team, "unknown team")
}

// ZoneFromIndex is the inverse of ZoneIndex.
func ZoneFromIndex(index int) (Team, int, error) {
	if index < 0 || index >= ZoneCount {
		return 0, 0, invalid("select_zone", "zone", index, "out of range")
	}
	return Team(index / ZonesPerTeam), index % ZonesPerTeam, nil
}
