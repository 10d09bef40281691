// Package rpc carries scheduler commands between processes: a packet with a
// handful of symbolic fields, framed over a stream socket, one reply per
// request.
package rpc

import "fmt"

// Command is the numeric command code of a packet.
type Command uint16

const (
	GetTaskByTelescopeID   Command = 1
	GetTaskByTelescopeName Command = 2

	ListTelescope         Command = 3
	AddTelescope          Command = 4
	DeleteTelescopeByID   Command = 5
	DeleteTelescopeByName Command = 6
	MaskTelescopeByID     Command = 7
	MaskTelescopeByName   Command = 8
	UnmaskTelescopeByID   Command = 9
	UnmaskTelescopeByName Command = 10
	ListTarget            Command = 11
	AddTarget             Command = 12
	DeleteTargetByID      Command = 16
	DeleteTargetByName    Command = 17
	MaskTargetByID        Command = 18
	MaskTargetByName      Command = 19
	UnmaskTargetByID      Command = 20
	UnmaskTargetByName    Command = 21
	SetTargetPriority     Command = 22
	ListSite              Command = 23
	AddSite               Command = 24
	DeleteSiteByID        Command = 25
	DeleteSiteByName      Command = 26
	MaskSiteByID          Command = 27
	MaskSiteByName        Command = 28
	UnmaskSiteByID        Command = 29
	UnmaskSiteByName      Command = 30
	AddTaskRecord         Command = 31
	UpdateStatus          Command = 33
	TaskBlockAck          Command = 38
	PopTaskBlock          Command = 39
	PushTaskBlock         Command = 40
	UpdateTaskRecord      Command = 49
)

var commandNames = map[Command]string{
	GetTaskByTelescopeID:   "get_task_by_telescope_id",
	GetTaskByTelescopeName: "get_task_by_telescope_name",
	ListTelescope:          "list_telescope",
	AddTelescope:           "add_telescope",
	DeleteTelescopeByID:    "delete_telescope_by_id",
	DeleteTelescopeByName:  "delete_telescope_by_name",
	MaskTelescopeByID:      "mask_telescope_by_id",
	MaskTelescopeByName:    "mask_telescope_by_name",
	UnmaskTelescopeByID:    "unmask_telescope_by_id",
	UnmaskTelescopeByName:  "unmask_telescope_by_name",
	ListTarget:             "list_target",
	AddTarget:              "add_target",
	DeleteTargetByID:       "delete_target_by_id",
	DeleteTargetByName:     "delete_target_by_name",
	MaskTargetByID:         "mask_target_by_id",
	MaskTargetByName:       "mask_target_by_name",
	UnmaskTargetByID:       "unmask_target_by_id",
	UnmaskTargetByName:     "unmask_target_by_name",
	SetTargetPriority:      "set_target_priority",
	ListSite:               "list_site",
	AddSite:                "add_site",
	DeleteSiteByID:         "delete_site_by_id",
	DeleteSiteByName:       "delete_site_by_name",
	MaskSiteByID:           "mask_site_by_id",
	MaskSiteByName:         "mask_site_by_name",
	UnmaskSiteByID:         "unmask_site_by_id",
	UnmaskSiteByName:       "unmask_site_by_name",
	AddTaskRecord:          "add_task_record",
	UpdateStatus:           "update_status",
	TaskBlockAck:           "task_block_ack",
	PopTaskBlock:           "pop_task_block",
	PushTaskBlock:          "push_task_block",
	UpdateTaskRecord:       "update_task_record",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("command(%d)", uint16(c))
}

// Packet is one request or reply.
//
// Field use by convention: U64F0 carries an entity id, U32F0 a resolution or
// small integer, Str a name or block id, Buf a JSON document, Option the
// document format.
type Packet struct {
	Seq       uint64  `json:"seq"`
	Command   Command `json:"cmd"`
	U64F0     uint64  `json:"u64f0,omitempty"`
	U32F0     uint32  `json:"u32f0,omitempty"`
	Str       string  `json:"str,omitempty"`
	Buf       []byte  `json:"buf,omitempty"`
	Option    uint32  `json:"option,omitempty"`
	ErrorCode Code    `json:"err,omitempty"`
	Message   string  `json:"msg,omitempty"`
}

// Reply returns an empty reply addressed to p.
func (p Packet) Reply() Packet { return Packet{Seq: p.Seq, Command: p.Command} }
