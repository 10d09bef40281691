package command

import "obsched/internal/rpc"

// Entity is a registry class addressed by the status commands.
type Entity int

const (
	Site Entity = iota
	Telescope
	Target
)

func (e Entity) String() string {
	switch e {
	case Site:
		return "site"
	case Telescope:
		return "telescope"
	case Target:
		return "target"
	}
	return "unknown"
}

// Action is a status transition.
type Action int

const (
	Delete Action = iota
	Mask
	Unmask
)

func (a Action) String() string {
	switch a {
	case Delete:
		return "delete"
	case Mask:
		return "mask"
	case Unmask:
		return "unmask"
	}
	return "unknown"
}

type statusOp struct {
	entity Entity
	action Action
	byName bool
}

var statusCommands = map[rpc.Command]statusOp{
	rpc.DeleteSiteByID:        {Site, Delete, false},
	rpc.DeleteSiteByName:      {Site, Delete, true},
	rpc.MaskSiteByID:          {Site, Mask, false},
	rpc.MaskSiteByName:        {Site, Mask, true},
	rpc.UnmaskSiteByID:        {Site, Unmask, false},
	rpc.UnmaskSiteByName:      {Site, Unmask, true},
	rpc.DeleteTelescopeByID:   {Telescope, Delete, false},
	rpc.DeleteTelescopeByName: {Telescope, Delete, true},
	rpc.MaskTelescopeByID:     {Telescope, Mask, false},
	rpc.MaskTelescopeByName:   {Telescope, Mask, true},
	rpc.UnmaskTelescopeByID:   {Telescope, Unmask, false},
	rpc.UnmaskTelescopeByName: {Telescope, Unmask, true},
	rpc.DeleteTargetByID:      {Target, Delete, false},
	rpc.DeleteTargetByName:    {Target, Delete, true},
	rpc.MaskTargetByID:        {Target, Mask, false},
	rpc.MaskTargetByName:      {Target, Mask, true},
	rpc.UnmaskTargetByID:      {Target, Unmask, false},
	rpc.UnmaskTargetByName:    {Target, Unmask, true},
}

// statusCommand finds the code for an entity/action pair.
func statusCommand(e Entity, a Action, byName bool) (rpc.Command, bool) {
	for cmd, op := range statusCommands {
		if op == (statusOp{e, a, byName}) {
			return cmd, true
		}
	}
	return 0, false
}
