// Package topology turns the flat discovered player set into the grouped view
// presented to users: multi-room groups, stereo pairs, and singles.
package topology

import (
	"fmt"

	"bluhub/models"
)

// Resolution is the grouped view plus any non-fatal inconsistencies seen in
// the input. Partial topology beats refusing to render anything.
type Resolution struct {
	Groups   []models.PlayerGroup `json:"groups"`
	Warnings []string             `json:"warnings"`
}

// Resolve partitions players into groups. Pure and deterministic: same input
// yields same groups in the same order, with member order following input
// order. Runs in time linear in len(players).
//
// Stereo-pair resolution takes priority over multi-room resolution: a pair
// behaves as one logical device at the protocol layer, so a player reporting
// both signals is resolved as a pair half.
func Resolve(players []models.Player) Resolution {
	res := Resolution{
		Groups:   []models.PlayerGroup{},
		Warnings: []string{},
	}

	byAddress := make(map[string]int, len(players))
	slavesByMaster := make(map[string][]int)
	for i, p := range players {
		byAddress[p.Address] = i
		if p.Signal.MasterAddress != "" {
			slavesByMaster[p.Signal.MasterAddress] = append(slavesByMaster[p.Signal.MasterAddress], i)
		}
	}

	assigned := make([]bool, len(players))

	// Stereo pairs first.
	for i := range players {
		p := &players[i]
		if assigned[i] || !p.Signal.IsStereoPaired {
			continue
		}

		j, ok := byAddress[p.Signal.PairAddress]
		if !ok || j == i {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("player %s claims stereo pairing with unknown sibling %s", p.ID, p.Signal.PairAddress))
			continue
		}
		sibling := &players[j]
		if assigned[j] || !sibling.Signal.IsStereoPaired {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("player %s claims stereo pairing but sibling %s does not reciprocate", p.ID, sibling.ID))
			continue
		}

		primary, secondary := p, sibling
		if sibling.Signal.Channel == models.ChannelLeft && p.Signal.Channel != models.ChannelLeft {
			primary, secondary = sibling, p
		}

		pri := *primary
		pri.Role = models.RoleStereoPrimary
		pri.GroupID = primary.ID
		pri.GroupName = pairName(primary)
		pri.ChannelMode = primary.Signal.Channel

		// The secondary half is display-only: volume, fixed-volume and model
		// metadata ride along, but it is never selectable on its own.
		sec := *secondary
		sec.Role = models.RoleStereoSecondary
		sec.GroupID = primary.ID
		sec.GroupName = pri.GroupName
		sec.ChannelMode = secondary.Signal.Channel

		res.Groups = append(res.Groups, models.PlayerGroup{
			ID:      primary.ID,
			Name:    pri.GroupName,
			Kind:    models.GroupStereoPair,
			Master:  &pri,
			Members: []models.Player{sec},
		})
		assigned[i], assigned[j] = true, true
	}

	// Multi-room groups. Slaves attach in input order; the resolver never
	// reorders by name or address.
	for i := range players {
		p := &players[i]
		if assigned[i] || !p.Signal.IsMaster {
			continue
		}

		master := *p
		master.Role = models.RoleGroupMaster
		master.GroupID = p.ID
		master.GroupName = groupName(p)

		group := models.PlayerGroup{
			ID:      p.ID,
			Name:    master.GroupName,
			Kind:    models.GroupMultiRoom,
			Master:  &master,
			Members: []models.Player{},
		}
		assigned[i] = true

		for _, j := range slavesByMaster[p.Address] {
			if assigned[j] {
				continue
			}
			slave := players[j]
			slave.Role = models.RoleGroupSlave
			slave.GroupID = p.ID
			slave.GroupName = master.GroupName
			group.Members = append(group.Members, slave)
			assigned[j] = true
		}

		res.Groups = append(res.Groups, group)
	}

	// Everything left becomes a single. A slave whose claimed master matched
	// no known player lands here too, with a warning.
	for i := range players {
		if assigned[i] {
			continue
		}
		p := players[i]
		if p.Signal.MasterAddress != "" {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("player %s claims master %s which matches no known player", p.ID, p.Signal.MasterAddress))
		}
		p.Role = models.RoleSingle
		p.GroupID = p.ID
		p.GroupName = p.Name
		res.Groups = append(res.Groups, models.PlayerGroup{
			ID:      p.ID,
			Name:    p.Name,
			Kind:    models.GroupSingle,
			Members: []models.Player{p},
		})
	}

	return res
}

// Selectable flattens a resolution into the players a user may actually
// target. Stereo secondaries never appear; they are addressed through their
// pair's primary.
func Selectable(res Resolution) []models.Player {
	var out []models.Player
	for _, g := range res.Groups {
		if g.Master != nil {
			out = append(out, *g.Master)
		}
		for _, m := range g.Members {
			if m.Role == models.RoleStereoSecondary {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

func pairName(primary *models.Player) string {
	if primary.Signal.GroupName != "" {
		return primary.Signal.GroupName
	}
	return primary.Name
}

func groupName(master *models.Player) string {
	if master.Signal.GroupName != "" {
		return master.Signal.GroupName
	}
	return master.Name + " group"
}
